// internal/dedupe/dedupe_test.go
package dedupe

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/valpere/ReviewScrapexter/pkg/types"
)

func TestDedupe_ExactDuplicates(t *testing.T) {
	d := New(0.90)
	input := []string{
		"Great kettle, boils fast and looks good.",
		"The lid leaks steam when pouring.",
		"great  kettle, boils fast and LOOKS good.",
		"Great kettle, boils fast and looks good.",
	}

	idx, stats := d.Keep(input)
	if !reflect.DeepEqual(idx, []int{0, 1}) {
		t.Fatalf("Keep = %v, want [0 1]", idx)
	}
	if stats.Exact != 2 || stats.Near != 0 || stats.Kept != 2 || stats.Input != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDedupe_ExactPairKeepsOneCopy(t *testing.T) {
	pair := "I have used this blender daily for a year and it still crushes ice perfectly."
	out := New(0.90).Dedupe([]string{"First unrelated review about the motor noise.", pair, pair})

	count := 0
	for _, s := range out {
		if s == pair {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one copy of the duplicated review, got %d", count)
	}
}

func TestDedupe_NearDuplicates(t *testing.T) {
	base := "the battery lasts about two days with normal use and charging is quick"
	oneWordChanged := "the battery lasts about three days with normal use and charging is quick"
	different := "the screen scratches far too easily and the case does not fit well"

	tests := []struct {
		name      string
		threshold float64
		input     []string
		want      []string
	}{
		{
			name:      "one word differs at 0.90",
			threshold: 0.90,
			input:     []string{base, oneWordChanged, different},
			want:      []string{base, different},
		},
		{
			name:      "stricter threshold keeps both",
			threshold: 0.95,
			input:     []string{base, oneWordChanged, different},
			want:      []string{base, oneWordChanged, different},
		},
		{
			name:      "punctuation only",
			threshold: 0.95,
			input:     []string{"Love it! Works great.", "love it works great"},
			want:      []string{"Love it! Works great."},
		},
		{
			name:      "empty input",
			threshold: 0.90,
			input:     nil,
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.threshold).Dedupe(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Dedupe = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	words := strings.Fields("kettle lid steam boil fast slow love hate great poor handle cord water tea cup price")
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		var input []string
		for i := 0; i < 40; i++ {
			n := 3 + rng.Intn(10)
			parts := make([]string, n)
			for j := range parts {
				parts[j] = words[rng.Intn(len(words))]
			}
			input = append(input, strings.Join(parts, " "))
		}
		// seed some exact and near copies
		input = append(input, input[0], input[1]+" tea", strings.ToUpper(input[2]))

		for _, threshold := range []float64{0.90, 0.95} {
			d := New(threshold)
			once := d.Dedupe(input)
			twice := d.Dedupe(once)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("trial %d threshold %.2f: dedupe not idempotent\nonce:  %q\ntwice: %q", trial, threshold, once, twice)
			}
		}
	}
}

func TestDedupe_Candidates(t *testing.T) {
	rating := 4.0
	candidates := []types.ReviewCandidate{
		{Text: "Solid build and quiet motor, happy with it.", ReviewerName: "Ann", Rating: &rating},
		{Text: "Solid build and quiet motor, happy with it.", ReviewerName: "Bob"},
		{Text: "Returned it after a week because the blade wobbled.", ReviewerName: "Cy"},
	}

	out, stats := New(0.90).Candidates(candidates)
	if len(out) != 2 || out[0].ReviewerName != "Ann" || out[1].ReviewerName != "Cy" {
		t.Errorf("unexpected candidates %+v", out)
	}
	if out[0].Rating == nil || *out[0].Rating != 4.0 {
		t.Error("provenance must be preserved")
	}
	if stats.Exact != 1 {
		t.Errorf("expected one exact duplicate, got %+v", stats)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello   World ", "hello world"},
		{"ＦＵＬＬＷＩＤＴＨ text", "fullwidth text"},
		{"ﬁne", "fine"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	tok := func(s string) []string { return Tokenize(Normalize(s)) }

	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"a b c d", "a b c d", 1.0},
		{"a b c d", "w x y z", 0.0},
		{"a b c d", "a b x d", 0.75},
		{"a b", "a b c d", 2.0 * 2 / 6},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s|%s", tt.a, tt.b), func(t *testing.T) {
			got := Ratio(tok(tt.a), tok(tt.b))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio = %v, want %v", got, tt.want)
			}
			if q := quickRatio(tok(tt.a), tok(tt.b)); q+1e-9 < got {
				t.Errorf("quickRatio %v below Ratio %v", q, got)
			}
			if r := realQuickRatio(tok(tt.a), tok(tt.b)); r+1e-9 < got {
				t.Errorf("realQuickRatio %v below Ratio %v", r, got)
			}
		})
	}
}
