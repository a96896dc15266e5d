// internal/output/output_test.go
package output

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/jobs"
	"github.com/valpere/ReviewScrapexter/internal/utils"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

func finishedSnapshot(n int) *jobs.Snapshot {
	created := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	completed := created.Add(3 * time.Minute)
	trust := 0.82

	reviews := make([]types.NormalizedReview, n)
	for i := range reviews {
		rating := float64(i%5 + 1)
		reviews[i] = types.NormalizedReview{
			ReviewerName: fmt.Sprintf("Reviewer %d", i),
			Rating:       &rating,
			Date:         "2024-05-01",
			Text:         fmt.Sprintf("Review number %d about the kettle.", i),
			Source:       types.SourceStore,
			Confidence:   0.9,
			Store:        "example.com",
			URL:          "https://example.com/p/kettle",
		}
	}

	return &jobs.Snapshot{
		ID:      "0b9f6a2e-1c4d-4f7e-9a55-2f8d3e1b7c90",
		Request: types.JobRequest{Source: types.SourceStore, ProductName: "Acme Kettle", URLs: []string{"https://example.com/p/kettle"}},
		State:   types.StateSuccess,
		Result: &types.JobResult{
			Reviews: reviews,
			Summary: types.SourceSummary{
				AverageRating:    3.0,
				OverallSentiment: types.SentimentMixed,
				CommonPraises:    []string{"boils fast"},
				CommonComplaints: []string{"loud"},
				VerifiedPatterns: types.VerifiedPatterns{Positive: []string{"fast"}, Negative: []string{}},
				TrustScore:       &trust,
			},
			TotalFound: n + 2,
			RawCount:   n + 10,
		},
		CreatedAt:   created,
		CompletedAt: &completed,
	}
}

func TestArchiveStatements(t *testing.T) {
	tests := []struct {
		name        string
		builder     sq.StatementBuilderType
		placeholder string
	}{
		{"postgres", postgresBuilder(), "$1"},
		{"mysql", sq.StatementBuilder, "?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := finishedSnapshot(3)
			stmts, err := archiveStatements(tt.builder, snap)
			if err != nil {
				t.Fatalf("archiveStatements() error = %v", err)
			}
			if len(stmts) != 4 {
				t.Fatalf("expected 4 statements, got %d", len(stmts))
			}

			wantPrefixes := []string{
				"DELETE FROM job_reviews",
				"DELETE FROM review_jobs",
				"INSERT INTO review_jobs",
				"INSERT INTO job_reviews",
			}
			for i, stmt := range stmts {
				query, args, err := stmt.ToSql()
				if err != nil {
					t.Fatalf("statement %d: ToSql() error = %v", i, err)
				}
				if !strings.HasPrefix(query, wantPrefixes[i]) {
					t.Errorf("statement %d = %q, want prefix %q", i, query, wantPrefixes[i])
				}
				if !strings.Contains(query, tt.placeholder) {
					t.Errorf("statement %d = %q, want placeholder %q", i, query, tt.placeholder)
				}
				if len(args) == 0 || args[0] != snap.ID {
					t.Errorf("statement %d: first arg = %v, want job id", i, args)
				}
			}

			_, jobArgs, _ := stmts[2].ToSql()
			if len(jobArgs) != len(jobColumns) {
				t.Fatalf("job insert has %d args, want %d", len(jobArgs), len(jobColumns))
			}
			if jobArgs[4] != 5 || jobArgs[5] != 13 {
				t.Errorf("total_found/raw_count = %v/%v, want 5/13", jobArgs[4], jobArgs[5])
			}
			if jobArgs[8] != 0.82 {
				t.Errorf("trust_score = %v, want 0.82", jobArgs[8])
			}

			_, reviewArgs, _ := stmts[3].ToSql()
			if len(reviewArgs) != 3*len(reviewColumns) {
				t.Errorf("review insert has %d args, want %d", len(reviewArgs), 3*len(reviewColumns))
			}
		})
	}
}

func TestArchiveStatements_BatchesReviews(t *testing.T) {
	stmts, err := archiveStatements(postgresBuilder(), finishedSnapshot(2*reviewInsertBatch+50))
	if err != nil {
		t.Fatalf("archiveStatements() error = %v", err)
	}
	if len(stmts) != 6 {
		t.Fatalf("expected 3 fixed + 3 review statements, got %d", len(stmts))
	}
	_, args, _ := stmts[5].ToSql()
	if len(args) != 50*len(reviewColumns) {
		t.Errorf("last batch has %d args, want %d", len(args), 50*len(reviewColumns))
	}
	if args[1] != 2*reviewInsertBatch {
		t.Errorf("last batch starts at position %v, want %d", args[1], 2*reviewInsertBatch)
	}
}

func TestArchiveStatements_NoReviews(t *testing.T) {
	snap := finishedSnapshot(0)
	snap.Result.Summary.TrustScore = nil
	stmts, err := archiveStatements(postgresBuilder(), snap)
	if err != nil {
		t.Fatalf("archiveStatements() error = %v", err)
	}
	if len(stmts) != 3 {
		t.Errorf("expected only the job statements, got %d", len(stmts))
	}
	_, args, _ := stmts[2].ToSql()
	if args[8] != nil {
		t.Errorf("trust_score = %v, want NULL", args[8])
	}
}

func TestArchivable(t *testing.T) {
	running := finishedSnapshot(1)
	running.State = types.StateProgress

	noResult := finishedSnapshot(1)
	noResult.Result = nil

	tests := []struct {
		name string
		snap *jobs.Snapshot
		ok   bool
	}{
		{"success", finishedSnapshot(1), true},
		{"in progress", running, false},
		{"missing result", noResult, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := archivable(tt.snap)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func lookup(d bson.D, key string) any {
	for _, e := range d {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func TestArchiveDocument(t *testing.T) {
	snap := finishedSnapshot(2)
	doc, err := archiveDocument(snap)
	if err != nil {
		t.Fatalf("archiveDocument() error = %v", err)
	}

	if got := lookup(doc, "_id"); got != snap.ID {
		t.Errorf("_id = %v, want %s", got, snap.ID)
	}
	if got := lookup(doc, "product_name"); got != "Acme Kettle" {
		t.Errorf("product_name = %v", got)
	}
	reviews, ok := lookup(doc, "reviews").(bson.A)
	if !ok || len(reviews) != 2 {
		t.Fatalf("reviews = %#v, want 2 documents", lookup(doc, "reviews"))
	}
	first := reviews[0].(bson.D)
	if got := lookup(first, "text"); got != "Review number 0 about the kettle." {
		t.Errorf("first review text = %v", got)
	}
	if got := lookup(first, "rating"); got != 1.0 {
		t.Errorf("first review rating = %v, want 1", got)
	}
	summary := lookup(doc, "summary").(bson.D)
	if got := lookup(summary, "overall_sentiment"); got != "mixed" {
		t.Errorf("overall_sentiment = %v, want mixed", got)
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("bson.Marshal() error = %v", err)
	}
	if len(raw) == 0 {
		t.Error("expected encoded document")
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("archiver:secret@tcp(db.internal:3306)/reviews")
	if err != nil {
		t.Fatalf("mysqlDSN() error = %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("dsn %q missing parseTime", dsn)
	}
	if !strings.HasPrefix(dsn, "archiver:secret@tcp(db.internal:3306)/reviews") {
		t.Errorf("dsn %q lost its address", dsn)
	}

	if _, err := mysqlDSN("not a dsn"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()
	logger := utils.DiscardLogger()

	sink, err := NewSink(ctx, config.ArchiveConfig{Type: "none"}, logger)
	if err != nil || sink != nil {
		t.Errorf("none: got (%v, %v), want (nil, nil)", sink, err)
	}

	tests := []config.ArchiveConfig{
		{Type: "cassandra"},
		{Type: "postgres"},
		{Type: "mysql"},
		{Type: "mysql", DSN: "not a dsn"},
		{Type: "mongodb", Database: "reviews", Collection: "review_jobs"},
	}
	for _, cfg := range tests {
		t.Run(cfg.Type+"/"+cfg.DSN, func(t *testing.T) {
			sink, err := NewSink(ctx, cfg, logger)
			if err == nil {
				t.Error("expected error but got none")
			}
			if sink != nil {
				t.Errorf("expected nil sink, got %T", sink)
			}
		})
	}
}

func TestWriteWorkbook(t *testing.T) {
	snap := finishedSnapshot(3)
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, snap); err != nil {
		t.Fatalf("WriteWorkbook() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != reviewsSheet || sheets[1] != summarySheet {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(reviewsSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "#" || rows[0][5] != "Text" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "Reviewer 0" || rows[1][5] != "Review number 0 about the kettle." {
		t.Errorf("first row = %v", rows[1])
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	values := map[string]string{}
	for _, row := range summary {
		if len(row) == 2 {
			values[row[0]] = row[1]
		}
	}
	if values["Job ID"] != snap.ID {
		t.Errorf("Job ID = %q", values["Job ID"])
	}
	if values["Overall sentiment"] != "mixed" {
		t.Errorf("Overall sentiment = %q", values["Overall sentiment"])
	}
	if values["Common praises"] != "boils fast" {
		t.Errorf("Common praises = %q", values["Common praises"])
	}
}

func TestWriteWorkbook_RejectsUnfinishedJob(t *testing.T) {
	snap := finishedSnapshot(1)
	snap.State = types.StateFailure
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, snap); err == nil {
		t.Error("expected error but got none")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for unfinished jobs")
	}
}

func TestCell(t *testing.T) {
	long := strings.Repeat("ж", maxCellLength+10)
	if got := cell(long); len([]rune(got)) != maxCellLength {
		t.Errorf("cell() kept %d runes, want %d", len([]rune(got)), maxCellLength)
	}
	if got := cell("short"); got != "short" {
		t.Errorf("cell() = %q", got)
	}
}
