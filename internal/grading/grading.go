// Package grading resolves feedback for a submitted answer through a tiered
// pipeline: marking-pattern fast path, remote strict grader, remote tutor,
// and the local heuristic evaluator when remote grading is unavailable.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/mockexam/internal/evaluator"
	"github.com/pavelanni/mockexam/internal/metrics"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/paper"
	"github.com/pavelanni/mockexam/internal/retry"
)

const (
	// MsgAutoVerified is the feedback text of a fast-path match.
	MsgAutoVerified = "Auto-verified: matches the expected answer."
	// FlawMissingAnalysis is used when the grader's verdict cannot be parsed.
	FlawMissingAnalysis = "Missing analysis"
	// LocalCaveat prefixes feedback produced by the local evaluator.
	LocalCaveat = "AI grading was unavailable, so this answer was scored locally. "
	// DefaultSecondaryModel is tried when the primary model fails and no
	// secondary model is configured.
	DefaultSecondaryModel = "qwen2.5"
)

// StrictGrader returns a raw {"score", "primary_flaw"} verdict from the named model.
type StrictGrader interface {
	GradeStrict(ctx context.Context, modelName string, q model.Question, answer string, scheme *model.MarkSchemeEntry) (string, error)
}

// Tutor explains an awarded mark and proposes a model paragraph.
type Tutor interface {
	Tutor(ctx context.Context, q model.Question, answer string, scheme *model.MarkSchemeEntry, score float64, flaw string) (string, error)
}

// Config selects the grading models and the retry policy for remote calls.
// An empty SecondaryModel means DefaultSecondaryModel.
type Config struct {
	PrimaryModel   string
	SecondaryModel string
	Retry          retry.Options
}

// Orchestrator runs the grading tiers. It never mutates session state; the
// caller records the returned feedback.
type Orchestrator struct {
	cfg    Config
	grader StrictGrader
	tutor  Tutor
	logger *slog.Logger
}

// New creates an Orchestrator. A nil grader sends every non-fast-path answer
// to the local evaluator; a nil tutor uses templated explanations.
func New(cfg Config, grader StrictGrader, tutor Tutor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SecondaryModel == "" {
		cfg.SecondaryModel = DefaultSecondaryModel
	}
	return &Orchestrator{cfg: cfg, grader: grader, tutor: tutor, logger: logger}
}

// Verdict is the strict grader's structured result.
type Verdict struct {
	Score       float64
	PrimaryFlaw string
	Degraded    bool
}

// Grade resolves feedback for one answer. It always returns a Feedback value;
// remote failures fall through to the next tier.
func (o *Orchestrator) Grade(ctx context.Context, q model.Question, answer model.Answer, scheme *model.MarkSchemeEntry) model.Feedback {
	log := o.logger.With("question", q.ID)

	if fb, ok := fastPath(q, answer); ok {
		metrics.GradingTierTotal.WithLabelValues("fast_path", "hit").Inc()
		log.Debug("fast path match")
		return fb
	}

	text := evaluator.FlatText(answer)
	verdict, err := o.strict(ctx, q, text, scheme)
	if err != nil {
		metrics.GradingTierTotal.WithLabelValues("strict", "failed").Inc()
		log.Warn("remote grading unavailable, using local evaluator", "error", err)
		return localFallback(q, answer, scheme)
	}
	outcome := "ok"
	if verdict.Degraded {
		outcome = "degraded"
	}
	metrics.GradingTierTotal.WithLabelValues("strict", outcome).Inc()

	fb := model.Feedback{
		Score:       verdict.Score,
		TotalMarks:  q.Marks,
		PrimaryFlaw: verdict.PrimaryFlaw,
		Source:      model.SourceAI,
	}
	if verdict.Degraded {
		fb.Source = model.SourceAIDegraded
	}

	explanation, rewrite, err := o.explain(ctx, q, text, scheme, verdict)
	if err != nil {
		metrics.GradingTierTotal.WithLabelValues("tutor", "failed").Inc()
		log.Warn("tutor unavailable, using templated explanation", "error", err)
		explanation = evaluator.FlawExplanation(verdict.Score, q.Marks, verdict.PrimaryFlaw)
		rewrite = evaluator.ModelAnswer(q, scheme)
	} else {
		metrics.GradingTierTotal.WithLabelValues("tutor", "ok").Inc()
	}
	fb.Text = explanation
	fb.Rewrite = rewrite
	return fb
}

// fastPath awards full marks when a scalar answer matches the question's
// marking pattern.
func fastPath(q model.Question, answer model.Answer) (model.Feedback, bool) {
	if q.MarkingRegex == "" || !answer.IsScalar() {
		return model.Feedback{}, false
	}
	if !evaluator.MatchesPattern(q.MarkingRegex, strings.TrimSpace(answer.Text)) {
		return model.Feedback{}, false
	}
	return model.Feedback{
		Score:      float64(q.Marks),
		TotalMarks: q.Marks,
		Text:       MsgAutoVerified,
		Source:     model.SourceFastPath,
	}, true
}

// strict asks the primary model, then the secondary model, each under the
// retry policy. It fails only when neither model produced a response.
func (o *Orchestrator) strict(ctx context.Context, q model.Question, text string, scheme *model.MarkSchemeEntry) (Verdict, error) {
	if o.grader == nil {
		return Verdict{}, errors.New("no grader configured")
	}

	models := []string{o.cfg.PrimaryModel}
	if o.cfg.SecondaryModel != o.cfg.PrimaryModel {
		models = append(models, o.cfg.SecondaryModel)
	}

	var errs []error
	for i, name := range models {
		opts := o.cfg.Retry
		opts.Operation = "grade"
		opts.OnRetry = func(err error, attempt int) {
			o.logger.Debug("retrying grade request", "question", q.ID, "model", name, "attempt", attempt, "error", err)
		}
		raw, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
			return o.grader.GradeStrict(ctx, name, q, text, scheme)
		}, opts)
		if err == nil {
			return ParseVerdict(raw, q.Marks), nil
		}
		errs = append(errs, err)
		if i < len(models)-1 {
			o.logger.Info("primary grading model failed, trying secondary", "question", q.ID, "model", name, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Verdict{}, errors.Join(errs...)
}

func (o *Orchestrator) explain(ctx context.Context, q model.Question, text string, scheme *model.MarkSchemeEntry, v Verdict) (string, string, error) {
	if o.tutor == nil {
		return "", "", errors.New("no tutor configured")
	}
	opts := o.cfg.Retry
	opts.Operation = "tutor"
	raw, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
		return o.tutor.Tutor(ctx, q, text, scheme, v.Score, v.PrimaryFlaw)
	}, opts)
	if err != nil {
		return "", "", err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("tutor returned an empty response")
	}
	return raw, ExtractModelParagraph(raw), nil
}

func localFallback(q model.Question, answer model.Answer, scheme *model.MarkSchemeEntry) model.Feedback {
	metrics.GradingTierTotal.WithLabelValues("local", "ok").Inc()
	fb := evaluator.Evaluate(q, answer, scheme)
	fb.Text = LocalCaveat + fb.Text
	return fb
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseVerdict decodes the grader's JSON verdict. Unparsable output yields a
// degraded verdict of 0 marks with FlawMissingAnalysis. The score is always
// clamped to [0, marks].
func ParseVerdict(raw string, marks int) Verdict {
	var out struct {
		Score       json.RawMessage `json:"score"`
		PrimaryFlaw *string         `json:"primary_flaw"`
	}
	if err := json.Unmarshal(paper.StripCodeFence([]byte(raw)), &out); err != nil {
		return Verdict{PrimaryFlaw: FlawMissingAnalysis, Degraded: true}
	}
	score, ok := parseScore(out.Score)
	if !ok {
		return Verdict{PrimaryFlaw: FlawMissingAnalysis, Degraded: true}
	}
	v := Verdict{Score: evaluator.Clamp(score, marks)}
	if out.PrimaryFlaw != nil {
		v.PrimaryFlaw = strings.TrimSpace(*out.PrimaryFlaw)
	}
	if strings.EqualFold(v.PrimaryFlaw, "null") || strings.EqualFold(v.PrimaryFlaw, "none") {
		v.PrimaryFlaw = ""
	}
	return v
}

// parseScore accepts a JSON number or a string such as "3" or "3/5".
func parseScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

// A heading consumes its whole line; a bold label may be followed by text on
// the same line.
var modelHeaderRe = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*\**[ \t]*model[ \t]+(?:paragraph|answer)[^\n]*$|\*\*[ \t]*model[ \t]+(?:paragraph|answer)[ \t]*:?[ \t]*\*\*[ \t]*:?)`)

// ExtractModelParagraph returns the text following a "Model paragraph" or
// "Model answer" header (markdown heading or bold line) up to the next blank
// line. Without such a header the whole response is returned.
func ExtractModelParagraph(response string) string {
	loc := modelHeaderRe.FindStringIndex(response)
	if loc == nil {
		return strings.TrimSpace(response)
	}
	rest := strings.TrimLeft(response[loc[1]:], " \t\r\n")
	if i := strings.Index(rest, "\n\n"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.Index(rest, "\r\n\r\n"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return strings.TrimSpace(response)
	}
	return rest
}
