// internal/validator/schema.go
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verdictSchemaJSON = `{
  "type": "object",
  "required": ["verdicts"],
  "properties": {
    "verdicts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "is_review", "confidence"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "is_review": {"type": "boolean"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "reason": {"type": ["string", "null"]},
          "reviewer_name": {"type": ["string", "null"]},
          "rating": {"type": ["number", "null"], "minimum": 0, "maximum": 5},
          "date": {"type": ["string", "null"]},
          "title": {"type": ["string", "null"]},
          "text": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

const summarySchemaJSON = `{
  "type": "object",
  "required": ["overall_sentiment", "common_praises", "common_complaints", "verified_patterns"],
  "properties": {
    "average_rating": {"type": ["number", "null"], "minimum": 0, "maximum": 5},
    "overall_sentiment": {"enum": ["positive", "mixed", "negative"]},
    "common_praises": {"type": "array", "items": {"type": "string"}},
    "common_complaints": {"type": "array", "items": {"type": "string"}},
    "verified_patterns": {
      "type": "object",
      "required": ["positive", "negative"],
      "properties": {
        "positive": {"type": "array", "items": {"type": "string"}},
        "negative": {"type": "array", "items": {"type": "string"}}
      }
    },
    "trust_score": {"type": ["number", "null"], "minimum": 0, "maximum": 1}
  }
}`

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// decodeValidated checks data against schema and decodes it into out
func decodeValidated(schema *jsonschema.Schema, data []byte, out any) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal model output: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("model output does not match schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// stripFences removes a surrounding markdown code fence and any prose around the
// outermost JSON object
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// number reads a JSON number that a model may have emitted as a string
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// repairVerdicts is the single lenient pass over malformed verdict output:
// fences stripped, a bare array wrapped, confidence clamped, out-of-range
// indices and ratings dropped
func repairVerdicts(raw string, n int) ([]byte, error) {
	var top any
	if err := json.Unmarshal([]byte(stripFences(raw)), &top); err != nil {
		return nil, fmt.Errorf("unmarshal model output: %w", err)
	}

	var items []any
	switch t := top.(type) {
	case []any:
		items = t
	case map[string]any:
		field, ok := t["verdicts"]
		if !ok {
			return nil, errMissingVerdicts
		}
		if items, ok = field.([]any); !ok {
			return nil, fmt.Errorf("verdicts is %T, not a list", field)
		}
	default:
		return nil, fmt.Errorf("model output is %T, not an object", top)
	}

	repaired := make([]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := number(m["index"])
		if !ok || idx < 0 || int(idx) >= n || idx != float64(int(idx)) {
			continue
		}
		m["index"] = int(idx)

		if conf, ok := number(m["confidence"]); ok {
			m["confidence"] = clamp(conf, 0, 1)
		} else {
			m["confidence"] = 0.0
		}
		if b, ok := m["is_review"].(string); ok {
			m["is_review"] = strings.EqualFold(b, "true")
		}
		if _, ok := m["is_review"].(bool); !ok {
			m["is_review"] = false
		}
		if r, ok := number(m["rating"]); ok && r > 0 && r <= 5 {
			m["rating"] = r
		} else {
			delete(m, "rating")
		}
		repaired = append(repaired, m)
	}
	return json.Marshal(map[string]any{"verdicts": repaired})
}

var sentimentAliases = map[string]string{
	"very_positive": "positive",
	"very positive": "positive",
	"positive":      "positive",
	"neutral":       "mixed",
	"mixed":         "mixed",
	"negative":      "negative",
	"very_negative": "negative",
	"very negative": "negative",
}

// repairSummary is the single lenient pass over malformed summary output
func repairSummary(raw string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(stripFences(raw)), &m); err != nil {
		return nil, fmt.Errorf("unmarshal model output: %w", err)
	}

	if s, ok := m["overall_sentiment"].(string); ok {
		if alias, known := sentimentAliases[strings.ToLower(strings.TrimSpace(s))]; known {
			m["overall_sentiment"] = alias
		}
	}
	for _, key := range []string{"common_praises", "common_complaints"} {
		if _, ok := m[key].([]any); !ok {
			m[key] = []any{}
		}
	}
	vp, ok := m["verified_patterns"].(map[string]any)
	if !ok {
		vp = map[string]any{}
		m["verified_patterns"] = vp
	}
	for _, key := range []string{"positive", "negative"} {
		if _, ok := vp[key].([]any); !ok {
			vp[key] = []any{}
		}
	}
	if r, ok := number(m["average_rating"]); ok {
		m["average_rating"] = clamp(r, 0, 5)
	} else {
		delete(m, "average_rating")
	}
	if t, ok := number(m["trust_score"]); ok {
		if t > 1 && t <= 100 {
			t /= 100
		}
		m["trust_score"] = clamp(t, 0, 1)
	} else {
		delete(m, "trust_score")
	}
	return json.Marshal(m)
}
