// Package evaluator scores answers against a mark scheme without any remote
// call. Every function here is deterministic and side-effect free, so the
// same primitives back the local grading tier and the offline substitutes
// for hints, explanations, follow-ups and study plans.
package evaluator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pavelanni/mockexam/internal/model"
)

const (
	// MaxListedPoints caps how many matched scheme points a message lists.
	MaxListedPoints = 3

	acceptableAnswerPoints = 1.0
	criterionPoints        = 0.5

	MsgNoAnswer          = "No answer provided."
	MsgPatternMatch      = "Your answer matches the expected answer."
	MsgSchemeMissing     = "The mark scheme for this question was unavailable, so the answer could not be scored."
	MsgIncludeMorePoints = "Try to include more of the mark scheme's key points."
	FlawMissingPoints    = "Missing key points"
)

// Evaluate scores answer against the question's pattern and mark scheme.
func Evaluate(q model.Question, answer model.Answer, scheme *model.MarkSchemeEntry) model.Feedback {
	fb := model.Feedback{TotalMarks: q.Marks, Source: model.SourceLocal}

	text := Normalize(answer)
	if text == "" {
		fb.Text = MsgNoAnswer
		return fb
	}

	if q.MarkingRegex != "" && MatchesPattern(q.MarkingRegex, text) {
		fb.Score = float64(q.Marks)
		fb.Text = MsgPatternMatch
		fb.Rewrite = ModelAnswer(q, scheme)
		return fb
	}

	if scheme == nil {
		fb.Text = MsgSchemeMissing
		return fb
	}

	var raw float64
	var matched []string
	seen := make(map[string]bool)
	collect := func(points []string, weight float64) {
		for _, p := range points {
			np := normalizeText(p)
			if np == "" || !strings.Contains(text, np) {
				continue
			}
			raw += weight
			if !seen[np] {
				seen[np] = true
				matched = append(matched, strings.TrimSpace(p))
			}
		}
	}
	collect(scheme.AcceptableAnswers, acceptableAnswerPoints)
	collect(scheme.Criteria, criterionPoints)

	fb.Score = Clamp(math.Round(raw), q.Marks)
	fb.Rewrite = ModelAnswer(q, scheme)
	if fb.Score < float64(q.Marks) {
		fb.PrimaryFlaw = FlawMissingPoints
	}

	if len(matched) == 0 {
		fb.Text = MsgIncludeMorePoints
		return fb
	}
	listed := matched
	if len(listed) > MaxListedPoints {
		listed = listed[:MaxListedPoints]
	}
	msg := "You covered these mark scheme points: " + strings.Join(listed, "; ")
	if extra := len(matched) - len(listed); extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	fb.Text = msg + "."
	return fb
}

// Clamp limits score to [0, marks].
func Clamp(score float64, marks int) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > float64(marks) {
		return float64(marks)
	}
	return score
}

// CompilePattern compiles a marking pattern. Patterns are matched case
// insensitively under RE2 semantics; patterns that do not compile are
// rejected rather than rewritten.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return nil, fmt.Errorf("empty marking pattern")
	}
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		p = p[1 : len(p)-1]
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, fmt.Errorf("compile marking pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MatchesPattern reports whether the trimmed text matches pattern. Invalid
// patterns never match.
func MatchesPattern(pattern, text string) bool {
	re, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(strings.TrimSpace(text))
}

// ModelAnswer builds a reference answer from the scheme.
func ModelAnswer(q model.Question, scheme *model.MarkSchemeEntry) string {
	if scheme == nil {
		return ""
	}
	for _, a := range scheme.AcceptableAnswers {
		if s := strings.TrimSpace(a); s != "" {
			return s
		}
	}
	var pts []string
	for _, c := range scheme.Criteria {
		if s := strings.TrimSpace(c); s != "" {
			pts = append(pts, s)
		}
	}
	if len(pts) == 0 {
		return ""
	}
	return "A full-mark answer would: " + strings.Join(pts, "; ") + "."
}

// Normalize flattens any answer shape into lowercase, whitespace-collapsed text.
func Normalize(a model.Answer) string {
	var flat string
	switch a.Kind {
	case model.KindScalar:
		flat = a.Text
	case model.KindList:
		flat = normalizeList(a.Items)
	case model.KindGrid:
		flat = normalizeGrid(a.Rows)
	case model.KindGraph:
		flat = normalizeGraph(a.Graph)
	}
	return normalizeText(flat)
}

// FlatText renders an answer as readable text for prompts.
func FlatText(a model.Answer) string {
	switch a.Kind {
	case model.KindList:
		return normalizeList(a.Items)
	case model.KindGrid:
		return normalizeGrid(a.Rows)
	case model.KindGraph:
		return normalizeGraph(a.Graph)
	default:
		return strings.TrimSpace(a.Text)
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(cases.Lower(language.Und).String(s)), " ")
}

func normalizeList(items []string) string {
	var parts []string
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func normalizeGrid(rows [][]string) string {
	var out []string
	for _, row := range rows {
		var cells []string
		for _, c := range row {
			if s := strings.TrimSpace(c); s != "" {
				cells = append(cells, s)
			}
		}
		if len(cells) > 0 {
			out = append(out, strings.Join(cells, " | "))
		}
	}
	return strings.Join(out, "; ")
}

func normalizeGraph(g *model.Graph) string {
	if g == nil || (len(g.Points) == 0 && len(g.Lines) == 0) {
		return ""
	}
	var sb strings.Builder
	if len(g.Points) > 0 {
		sb.WriteString("points: ")
		for i, p := range g.Points {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "(%s, %s)", num(p.X), num(p.Y))
		}
	}
	if len(g.Lines) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString("lines: ")
		for i, l := range g.Lines {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "(%s, %s) to (%s, %s)", num(l.X1), num(l.Y1), num(l.X2), num(l.Y2))
		}
	}
	return sb.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FormatScore renders a score without trailing zeros.
func FormatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
