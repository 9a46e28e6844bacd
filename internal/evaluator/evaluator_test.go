package evaluator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pavelanni/mockexam/internal/model"
)

func photosynthesis() (model.Question, *model.MarkSchemeEntry) {
	q := model.Question{ID: "q1", Type: model.TypeShortText, Marks: 3, Text: "What absorbs light in a leaf?"}
	scheme := &model.MarkSchemeEntry{
		TotalMarks:        3,
		AcceptableAnswers: []string{"Chlorophyll"},
		Criteria:          []string{"absorbs light", "in chloroplasts"},
	}
	return q, scheme
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		answer model.Answer
		want   string
	}{
		{"scalar collapses whitespace", model.TextAnswer("  The   Quick\n\tFox "), "the quick fox"},
		{"list joins items", model.ListAnswer("Iron", " ", "Zinc"), "iron; zinc"},
		{"grid joins rows", model.GridAnswer([][]string{{"A", "1"}, {"", ""}, {"B", "2"}}), "a | 1; b | 2"},
		{"graph describes shape", model.GraphAnswer(
			[]model.Point{{X: 1, Y: 2}, {X: 3.5, Y: 4}},
			[]model.Line{{X1: 0, Y1: 0, X2: 1, Y2: 1}},
		), "points: (1, 2), (3.5, 4); lines: (0, 0) to (1, 1)"},
		{"empty graph", model.Answer{Kind: model.KindGraph}, ""},
		{"unknown kind", model.Answer{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.answer); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvaluateEmptyAnswer(t *testing.T) {
	q, scheme := photosynthesis()
	fb := Evaluate(q, model.TextAnswer("   "), scheme)
	if fb.Score != 0 || fb.Text != MsgNoAnswer {
		t.Errorf("got %+v", fb)
	}
	if fb.TotalMarks != 3 {
		t.Errorf("TotalMarks = %d, want 3", fb.TotalMarks)
	}
}

func TestEvaluatePatternMatch(t *testing.T) {
	q := model.Question{ID: "q2", Type: model.TypeNumerical, Marks: 2, MarkingRegex: "^42$"}
	fb := Evaluate(q, model.TextAnswer(" 42 "), nil)
	if fb.Score != 2 {
		t.Errorf("Score = %v, want 2", fb.Score)
	}
	if fb.Text != MsgPatternMatch {
		t.Errorf("Text = %q", fb.Text)
	}
}

func TestEvaluateSchemeScoring(t *testing.T) {
	q, scheme := photosynthesis()
	fb := Evaluate(q, model.TextAnswer("Chlorophyll absorbs light energy"), scheme)

	// 1 (acceptable) + 0.5 (criterion) rounds to 2.
	if fb.Score != 2 {
		t.Errorf("Score = %v, want 2", fb.Score)
	}
	if !strings.Contains(fb.Text, "Chlorophyll; absorbs light") {
		t.Errorf("Text should list matched points, got %q", fb.Text)
	}
	if fb.PrimaryFlaw != FlawMissingPoints {
		t.Errorf("PrimaryFlaw = %q", fb.PrimaryFlaw)
	}
	if fb.Rewrite != "Chlorophyll" {
		t.Errorf("Rewrite = %q", fb.Rewrite)
	}
	if fb.Source != model.SourceLocal {
		t.Errorf("Source = %q", fb.Source)
	}
}

func TestEvaluateClampsToMarks(t *testing.T) {
	q := model.Question{ID: "q3", Type: model.TypeShortText, Marks: 1}
	scheme := &model.MarkSchemeEntry{AcceptableAnswers: []string{"iron", "zinc", "copper"}}
	fb := Evaluate(q, model.TextAnswer("iron zinc copper"), scheme)
	if fb.Score != 1 {
		t.Errorf("Score = %v, want 1", fb.Score)
	}
	if fb.PrimaryFlaw != "" {
		t.Errorf("full marks should carry no flaw, got %q", fb.PrimaryFlaw)
	}
}

func TestEvaluateDedupAndCap(t *testing.T) {
	q := model.Question{ID: "q4", Type: model.TypeLongText, Marks: 6}
	scheme := &model.MarkSchemeEntry{
		AcceptableAnswers: []string{"Mitochondria"},
		Criteria:          []string{"mitochondria", "respiration", "glucose", "oxygen", "energy"},
	}
	fb := Evaluate(q, model.TextAnswer("mitochondria use glucose and oxygen in respiration to release energy"), scheme)

	// 1 + 5*0.5 = 3.5, rounds to 4.
	if fb.Score != 4 {
		t.Errorf("Score = %v, want 4", fb.Score)
	}
	if strings.Count(strings.ToLower(fb.Text), "mitochondria") != 1 {
		t.Errorf("matched points should be deduplicated: %q", fb.Text)
	}
	if !strings.Contains(fb.Text, "(and 2 more)") {
		t.Errorf("expected capped list, got %q", fb.Text)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	q, scheme := photosynthesis()
	fb := Evaluate(q, model.TextAnswer("the sun"), scheme)
	if fb.Score != 0 || fb.Text != MsgIncludeMorePoints {
		t.Errorf("got %+v", fb)
	}
}

func TestEvaluateNoScheme(t *testing.T) {
	q, _ := photosynthesis()
	fb := Evaluate(q, model.TextAnswer("chlorophyll"), nil)
	if fb.Score != 0 || fb.Text != MsgSchemeMissing {
		t.Errorf("got %+v", fb)
	}
}

func TestEvaluateListAnswer(t *testing.T) {
	q := model.Question{ID: "q5", Type: model.TypeList, Marks: 2, ListCount: 2}
	scheme := &model.MarkSchemeEntry{AcceptableAnswers: []string{"mercury", "venus"}}
	fb := Evaluate(q, model.ListAnswer("Mercury", "Venus"), scheme)
	if fb.Score != 2 {
		t.Errorf("Score = %v, want 2", fb.Score)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	q, scheme := photosynthesis()
	answer := model.TextAnswer("chlorophyll in chloroplasts")
	first := Evaluate(q, answer, scheme)
	for i := 0; i < 10; i++ {
		if got := Evaluate(q, answer, scheme); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
	if scheme.Criteria[0] != "absorbs light" {
		t.Errorf("Evaluate mutated the scheme")
	}
}

func TestScoreWithinBounds(t *testing.T) {
	q, scheme := photosynthesis()
	answers := []model.Answer{
		model.TextAnswer(""),
		model.TextAnswer("chlorophyll chlorophyll absorbs light in chloroplasts"),
		model.ListAnswer("x"),
		model.GridAnswer([][]string{{"chlorophyll"}}),
		model.GraphAnswer([]model.Point{{X: 1, Y: 1}}, nil),
	}
	for _, a := range answers {
		fb := Evaluate(q, a, scheme)
		if fb.Score < 0 || fb.Score > float64(q.Marks) {
			t.Errorf("score %v out of bounds for %+v", fb.Score, a)
		}
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		text    string
		match   bool
		wantErr bool
	}{
		{"anchored number", "^42$", "42", true, false},
		{"case insensitive", "^paris$", "Paris", true, false},
		{"slash delimited", "/^h2o$/", "H2O", true, false},
		{"no match", "^42$", "420", false, false},
		{"invalid pattern", "(unclosed", "x", false, true},
		{"empty", "  ", "x", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := CompilePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CompilePattern() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && re.MatchString(tt.text) != tt.match {
				t.Errorf("match(%q) = %v, want %v", tt.text, !tt.match, tt.match)
			}
			if got := MatchesPattern(tt.pattern, tt.text); got != tt.match {
				t.Errorf("MatchesPattern() = %v, want %v", got, tt.match)
			}
		})
	}
}

func TestFallbackBuilders(t *testing.T) {
	q, scheme := photosynthesis()
	answer := model.TextAnswer("chlorophyll")
	fb := Evaluate(q, answer, scheme)

	t.Run("hint", func(t *testing.T) {
		h := Hint(q, scheme)
		if !strings.Contains(h, "3 marks") || !strings.Contains(h, "absorbs light") {
			t.Errorf("Hint() = %q", h)
		}
	})

	t.Run("explanation lists missed criteria", func(t *testing.T) {
		e := Explanation(q, answer, fb, scheme)
		if !strings.Contains(e, "absorbs light; in chloroplasts") {
			t.Errorf("Explanation() = %q", e)
		}
	})

	t.Run("follow up", func(t *testing.T) {
		r := FollowUpReply(q, answer, fb, scheme, "Why did I lose marks?")
		if !strings.Contains(r, FlawMissingPoints) {
			t.Errorf("FollowUpReply() = %q", r)
		}
	})

	t.Run("flaw explanation", func(t *testing.T) {
		e := FlawExplanation(1.5, 4, "No evaluation")
		if !strings.Contains(e, "1.5/4") || !strings.Contains(e, "No evaluation") {
			t.Errorf("FlawExplanation() = %q", e)
		}
	})

	t.Run("study plan", func(t *testing.T) {
		p := StudyPlan(40, []model.Weakness{{Label: "Missing analysis", Count: 2}}, 3)
		if !strings.Contains(p, "40%") || !strings.Contains(p, "missing analysis (seen 2 times)") {
			t.Errorf("StudyPlan() = %q", p)
		}
	})
}
