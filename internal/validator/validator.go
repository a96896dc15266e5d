// internal/validator/validator.go
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tmc/langchaingo/llms"

	"github.com/valpere/ReviewScrapexter/internal/config"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const (
	opValidate  = "validate"
	opNormalize = "normalize"

	maxSummaryItems = 5
)

var (
	errMissingVerdicts = errors.New("model output has no verdicts field")
	errNoVerdicts      = errors.New("model returned no usable verdicts")
)

// Subject names what the reviews under validation are about
type Subject struct {
	Source  types.Source
	Product string
}

// Options tunes batching and acceptance
type Options struct {
	BatchSize           int
	Timeout             time.Duration
	AcceptanceThreshold float64
	FallbackConfidence  float64
}

// OptionsFrom maps validator configuration to Options
func OptionsFrom(cfg config.ValidatorConfig) Options {
	return Options{
		BatchSize:           cfg.BatchSize,
		Timeout:             cfg.Timeout,
		AcceptanceThreshold: cfg.AcceptanceThreshold,
		FallbackConfidence:  cfg.FallbackConfidence,
	}
}

// Validator classifies candidates and summarizes accepted reviews through a language model
type Validator struct {
	model         llms.Model
	opts          Options
	verdictSchema *jsonschema.Schema
	summarySchema *jsonschema.Schema
	retry         *apperrors.Service
	logger        *slog.Logger
	metrics       *monitoring.MetricsManager
	now           func() time.Time
}

// New creates a Validator. A nil model is allowed; every call then fails with a
// ValidationServiceError and callers degrade.
func New(model llms.Model, opts Options, logger *slog.Logger) (*Validator, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.AcceptanceThreshold <= 0 {
		opts.AcceptanceThreshold = 0.5
	}
	if opts.FallbackConfidence <= 0 {
		opts.FallbackConfidence = opts.AcceptanceThreshold
	}

	verdictSchema, err := compileSchema("verdicts.json", verdictSchemaJSON)
	if err != nil {
		return nil, err
	}
	summarySchema, err := compileSchema("summary.json", summarySchemaJSON)
	if err != nil {
		return nil, err
	}

	return &Validator{
		model:         model,
		opts:          opts,
		verdictSchema: verdictSchema,
		summarySchema: summarySchema,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// WithMetrics attaches a metrics manager
func (v *Validator) WithMetrics(m *monitoring.MetricsManager) *Validator {
	v.metrics = m
	return v
}

// WithRetry retries transient model failures through the shared error service
func (v *Validator) WithRetry(s *apperrors.Service) *Validator {
	v.retry = s
	return v
}

// BatchSize returns the maximum number of candidates sent per model call
func (v *Validator) BatchSize() int { return v.opts.BatchSize }

// Options returns the effective options
func (v *Validator) Options() Options { return v.opts }

// ValidateBatch returns one verdict per candidate, aligned by index. Candidates
// the model did not answer for are rejected; a chunk with no usable verdict at
// all is a ValidationServiceError.
func (v *Validator) ValidateBatch(ctx context.Context, subject Subject, batch []types.ReviewCandidate) ([]types.Verdict, error) {
	verdicts := make([]types.Verdict, 0, len(batch))
	for start := 0; start < len(batch); start += v.opts.BatchSize {
		end := min(start+v.opts.BatchSize, len(batch))
		chunk, err := v.validateChunk(ctx, subject, batch[start:end])
		if err != nil {
			return nil, err
		}
		for i := range chunk {
			chunk[i].Index += start
		}
		verdicts = append(verdicts, chunk...)
	}
	return verdicts, nil
}

type verdictOutput struct {
	Verdicts []struct {
		Index        int      `json:"index"`
		IsReview     bool     `json:"is_review"`
		Confidence   float64  `json:"confidence"`
		Reason       *string  `json:"reason"`
		ReviewerName *string  `json:"reviewer_name"`
		Rating       *float64 `json:"rating"`
		Date         *string  `json:"date"`
		Title        *string  `json:"title"`
		Text         *string  `json:"text"`
	} `json:"verdicts"`
}

func (v *Validator) validateChunk(ctx context.Context, subject Subject, chunk []types.ReviewCandidate) ([]types.Verdict, error) {
	prompt, err := verdictPrompt(subject, chunk)
	if err != nil {
		return nil, &apperrors.ValidationServiceError{Op: opValidate, Err: err}
	}

	raw, err := v.generate(ctx, opValidate, verdictSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var out verdictOutput
	if err := decodeValidated(v.verdictSchema, []byte(raw), &out); err != nil {
		v.logger.Debug("validator.repairing_output", "op", opValidate, "error", err)
		repaired, rerr := repairVerdicts(raw, len(chunk))
		if rerr == nil {
			rerr = decodeValidated(v.verdictSchema, repaired, &out)
		}
		if rerr != nil {
			v.metrics.RecordValidatorCall(opValidate, "malformed")
			return nil, &apperrors.ValidationServiceError{Op: opValidate, Err: rerr}
		}
	}

	verdicts := make([]types.Verdict, len(chunk))
	answered := make([]bool, len(chunk))
	usable := 0
	for _, o := range out.Verdicts {
		if o.Index < 0 || o.Index >= len(chunk) || answered[o.Index] {
			continue
		}
		answered[o.Index] = true
		usable++
		verdicts[o.Index] = types.Verdict{
			Index:        o.Index,
			IsReview:     o.IsReview,
			Confidence:   clamp(o.Confidence, 0, 1),
			Reason:       deref(o.Reason),
			ReviewerName: deref(o.ReviewerName),
			Rating:       validRating(o.Rating),
			Date:         deref(o.Date),
			Title:        deref(o.Title),
			Text:         deref(o.Text),
		}
	}
	if usable == 0 && len(chunk) > 0 {
		v.metrics.RecordValidatorCall(opValidate, "malformed")
		return nil, &apperrors.ValidationServiceError{Op: opValidate, Err: errNoVerdicts}
	}
	v.metrics.RecordValidatorCall(opValidate, "ok")

	for i := range verdicts {
		if !answered[i] {
			verdicts[i] = types.Verdict{Index: i, Reason: "no verdict returned"}
		}
	}
	return verdicts, nil
}

// Accept merges a verdict into its candidate. ok is false unless the verdict
// marks a review at or above the acceptance threshold with valid text.
func (v *Validator) Accept(source types.Source, c types.ReviewCandidate, verdict types.Verdict) (types.NormalizedReview, bool) {
	r := v.fromCandidate(source, c, verdict.Confidence)
	if name := strings.TrimSpace(verdict.ReviewerName); name != "" {
		r.ReviewerName = name
	}
	if verdict.Rating != nil {
		r.Rating = verdict.Rating
	}
	if date, ok := types.ParseDate(verdict.Date, v.now()); ok {
		r.Date = date
	}
	if title := strings.TrimSpace(verdict.Title); title != "" {
		r.Title = title
	}
	if text := strings.TrimSpace(verdict.Text); text != "" {
		r.Text = truncate(text, types.MaxReviewTextLength)
		if !r.HasValidText() {
			r.Text = truncate(strings.TrimSpace(c.Text), types.MaxReviewTextLength)
		}
	}

	ok := verdict.IsReview && verdict.Confidence >= v.opts.AcceptanceThreshold && r.HasValidText()
	return r, ok
}

// Fallback accepts an unvalidated candidate at the fallback confidence
func (v *Validator) Fallback(source types.Source, c types.ReviewCandidate) (types.NormalizedReview, bool) {
	r := v.fromCandidate(source, c, v.opts.FallbackConfidence)
	return r, r.HasValidText() && r.Confidence >= v.opts.AcceptanceThreshold
}

func (v *Validator) fromCandidate(source types.Source, c types.ReviewCandidate, confidence float64) types.NormalizedReview {
	r := types.NormalizedReview{
		ReviewerName: strings.TrimSpace(c.ReviewerName),
		Rating:       validRating(c.Rating),
		Title:        strings.TrimSpace(c.Title),
		Text:         truncate(strings.TrimSpace(c.Text), types.MaxReviewTextLength),
		Source:       source,
		Confidence:   confidence,
		Store:        c.Store,
		Origin:       c.Origin,
		URL:          c.SourceURL,
	}
	if date, ok := types.ParseDate(c.Date, v.now()); ok {
		r.Date = date
	}
	return r
}

type summaryOutput struct {
	AverageRating    *float64               `json:"average_rating"`
	OverallSentiment types.Sentiment        `json:"overall_sentiment"`
	CommonPraises    []string               `json:"common_praises"`
	CommonComplaints []string               `json:"common_complaints"`
	VerifiedPatterns types.VerifiedPatterns `json:"verified_patterns"`
	TrustScore       *float64               `json:"trust_score"`
}

// Normalize derives the source summary for a completed job in a single model call
func (v *Validator) Normalize(ctx context.Context, subject Subject, reviews []types.NormalizedReview) (types.SourceSummary, error) {
	if len(reviews) == 0 {
		return summarize(reviews), nil
	}

	prompt, err := summaryPrompt(subject, reviews)
	if err != nil {
		return types.SourceSummary{}, &apperrors.ValidationServiceError{Op: opNormalize, Err: err}
	}

	raw, err := v.generate(ctx, opNormalize, summarySystemPrompt, prompt)
	if err != nil {
		return types.SourceSummary{}, err
	}

	var out summaryOutput
	if err := decodeValidated(v.summarySchema, []byte(raw), &out); err != nil {
		v.logger.Debug("validator.repairing_output", "op", opNormalize, "error", err)
		repaired, rerr := repairSummary(raw)
		if rerr == nil {
			rerr = decodeValidated(v.summarySchema, repaired, &out)
		}
		if rerr != nil {
			v.metrics.RecordValidatorCall(opNormalize, "malformed")
			return types.SourceSummary{}, &apperrors.ValidationServiceError{Op: opNormalize, Err: rerr}
		}
	}
	v.metrics.RecordValidatorCall(opNormalize, "ok")

	summary := types.SourceSummary{
		OverallSentiment: out.OverallSentiment,
		CommonPraises:    cleanList(out.CommonPraises),
		CommonComplaints: cleanList(out.CommonComplaints),
		VerifiedPatterns: types.VerifiedPatterns{
			Positive: cleanList(out.VerifiedPatterns.Positive),
			Negative: cleanList(out.VerifiedPatterns.Negative),
		},
	}
	if avg, ok := averageRating(reviews); ok {
		summary.AverageRating = avg
	} else if out.AverageRating != nil {
		summary.AverageRating = round(clamp(*out.AverageRating, 0, 5))
	}
	if subject.Source == types.SourceStore && out.TrustScore != nil {
		trust := clamp(*out.TrustScore, 0, 1)
		summary.TrustScore = &trust
	}
	return summary, nil
}

// LocalSummary computes a degraded summary without the model
func LocalSummary(reviews []types.NormalizedReview) types.SourceSummary {
	s := summarize(reviews)
	s.Degraded = true
	return s
}

func summarize(reviews []types.NormalizedReview) types.SourceSummary {
	s := types.SourceSummary{
		OverallSentiment: types.SentimentMixed,
		CommonPraises:    []string{},
		CommonComplaints: []string{},
		VerifiedPatterns: types.VerifiedPatterns{Positive: []string{}, Negative: []string{}},
	}
	avg, ok := averageRating(reviews)
	if !ok {
		return s
	}
	s.AverageRating = avg
	switch {
	case avg >= 4.0:
		s.OverallSentiment = types.SentimentPositive
	case avg >= 3.0:
		s.OverallSentiment = types.SentimentMixed
	default:
		s.OverallSentiment = types.SentimentNegative
	}
	return s
}

func (v *Validator) generate(ctx context.Context, op, system, prompt string) (string, error) {
	if v.model == nil {
		v.metrics.RecordValidatorCall(op, "disabled")
		return "", &apperrors.ValidationServiceError{Op: op, Err: fmt.Errorf("no language model configured")}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var content string
	call := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()

		resp, err := v.model.GenerateContent(callCtx, messages, llms.WithJSONMode(), llms.WithTemperature(0))
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return fmt.Errorf("empty response from model")
		}
		content = resp.Choices[0].Content
		return nil
	}

	var err error
	if v.retry != nil {
		err = v.retry.ExecuteWithRetry(ctx, "validator."+op, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		v.metrics.RecordValidatorCall(op, "error")
		return "", &apperrors.ValidationServiceError{Op: op, Err: err}
	}
	return content, nil
}

func averageRating(reviews []types.NormalizedReview) (float64, bool) {
	var sum float64
	var n int
	for _, r := range reviews {
		if r.Rating != nil && *r.Rating > 0 && *r.Rating <= 5 {
			sum += *r.Rating
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return round(sum / float64(n)), true
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func cleanList(items []string) []string {
	out := make([]string, 0, maxSummaryItems)
	seen := make(map[string]bool)
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == maxSummaryItems {
			break
		}
	}
	return out
}

func validRating(r *float64) *float64 {
	if r == nil || *r <= 0 || *r > 5 {
		return nil
	}
	v := *r
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
