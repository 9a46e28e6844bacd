// Package exam drives an exam attempt through its phases: upload, parsing,
// exam and summary. It validates submissions, runs grading and the study
// assistant with local fallbacks, and keeps the exam timer.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/mockexam/internal/evaluator"
	"github.com/pavelanni/mockexam/internal/metrics"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/retry"
	"github.com/pavelanni/mockexam/internal/session"
	"github.com/pavelanni/mockexam/internal/summary"
)

// Parser turns uploaded documents into questions and a mark scheme.
type Parser interface {
	ExtractQuestions(ctx context.Context, paper, insert []byte) (model.ParsedPaper, error)
	ParseMarkScheme(ctx context.Context, scheme []byte) (model.MarkScheme, error)
}

// Grader resolves feedback for an answer. It must always return a result.
type Grader interface {
	Grade(ctx context.Context, q model.Question, answer model.Answer, scheme *model.MarkSchemeEntry) model.Feedback
}

// Assistant provides the remote study helpers.
type Assistant interface {
	Hint(ctx context.Context, q model.Question, scheme *model.MarkSchemeEntry) (string, error)
	ExplainFeedback(ctx context.Context, q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry) (string, error)
	FollowUp(ctx context.Context, q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry, history []model.ChatMessage) (string, error)
	StudyPlan(ctx context.Context, percentage int, weaknesses []model.Weakness, questionCount int) (string, error)
}

// Upload is a paper submitted for parsing.
type Upload struct {
	Paper      []byte
	MarkScheme []byte
	Insert     []byte
	PaperID    string
	FilePaths  []string
}

// PageRequest asks the document renderer to show a page of the paper.
type PageRequest struct {
	QuestionID string `json:"questionId"`
	Page       int    `json:"page"`
	FilePath   string `json:"filePath,omitempty"`
}

// Config holds the engine collaborators. Assistant may be nil, in which case
// every study helper uses its local substitute.
type Config struct {
	Parser    Parser
	Grader    Grader
	Assistant Assistant
	Retry     retry.Options
	Logger    *slog.Logger
	// Tick is the exam timer interval. Zero means one second.
	Tick time.Duration
}

// Status is a compact view of the attempt.
type Status struct {
	Phase        model.Phase `json:"phase"`
	SessionID    string      `json:"sessionId,omitempty"`
	PaperID      string      `json:"paperId,omitempty"`
	Title        string      `json:"title,omitempty"`
	CurrentIndex int         `json:"currentIndex"`
	Total        int         `json:"total"`
	Graded       int         `json:"graded"`
	Skipped      []string    `json:"skipped"`
	Elapsed      int         `json:"elapsedSeconds"`
}

// Engine runs one exam attempt. It is safe for concurrent use.
type Engine struct {
	store     *session.Store
	parser    Parser
	grader    Grader
	assistant Assistant
	retry     retry.Options
	logger    *slog.Logger
	pages     chan PageRequest

	mu    sync.Mutex
	title string

	timer timer
}

// New creates an Engine over store.
func New(store *session.Store, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	e := &Engine{
		store:     store,
		parser:    cfg.Parser,
		grader:    cfg.Grader,
		assistant: cfg.Assistant,
		retry:     cfg.Retry,
		logger:    logger,
		pages:     make(chan PageRequest, 8),
	}
	e.timer.tick = tick
	e.timer.onTick = store.SetElapsed
	return e
}

// Phase returns the current phase.
func (e *Engine) Phase() model.Phase { return e.store.Phase() }

func (e *Engine) setPhase(p model.Phase) {
	e.store.SetPhase(p)
	if p == model.PhaseExam {
		e.timer.start(e.store.Snapshot().ElapsedSeconds)
	} else {
		e.timer.stop()
	}
}

func (e *Engine) requirePhase(p model.Phase) error {
	if got := e.store.Phase(); got != p {
		return fmt.Errorf("%w: in %s, need %s", model.ErrWrongPhase, got, p)
	}
	return nil
}

// StartParsing extracts questions and the mark scheme from up and starts the
// exam. Extraction failures return the engine to the upload phase; a mark
// scheme failure is logged and the exam continues without one.
func (e *Engine) StartParsing(ctx context.Context, up Upload) error {
	if p := e.store.Phase(); p != model.PhaseUpload && p != model.PhaseSummary {
		return fmt.Errorf("%w: cannot start a new paper during %s", model.ErrWrongPhase, p)
	}
	if e.parser == nil {
		return errors.New("no paper parser configured")
	}
	e.setPhase(model.PhaseParsing)

	parsed, err := e.parser.ExtractQuestions(ctx, up.Paper, up.Insert)
	if err != nil {
		e.setPhase(model.PhaseUpload)
		return fmt.Errorf("extract questions: %w", err)
	}
	if len(parsed.Questions) == 0 {
		e.setPhase(model.PhaseUpload)
		return model.ErrNoQuestions
	}

	scheme := model.MarkScheme{}
	if len(up.MarkScheme) > 0 {
		ms, err := e.parser.ParseMarkScheme(ctx, up.MarkScheme)
		if err != nil {
			e.logger.Warn("mark scheme could not be parsed, grading without it", "error", err)
		} else {
			scheme = ms
		}
	}

	sess := model.NewSession()
	sess.Questions = parsed.Questions
	sess.MarkScheme = scheme
	sess.InsertContent = parsed.Metadata.Insert
	sess.PaperID = up.PaperID
	sess.PaperFilePaths = up.FilePaths
	e.store.Load(sess)
	e.mu.Lock()
	e.title = parsed.Metadata.Title
	e.mu.Unlock()
	e.setPhase(model.PhaseExam)

	e.logger.Info("exam started", "paper", up.PaperID, "questions", len(parsed.Questions), "scheme_entries", len(scheme))
	e.persist(ctx)
	return nil
}

// Open resumes the stored session for up.PaperID when there is one and
// otherwise parses up as a new paper.
func (e *Engine) Open(ctx context.Context, up Upload) (resumed bool, err error) {
	if up.PaperID != "" && e.ResumePaper(ctx, up.PaperID) {
		e.logger.Info("resumed session for paper", "paper", up.PaperID)
		return true, nil
	}
	return false, e.StartParsing(ctx, up)
}

// editable reports whether the answer for qid may still change. Feedback
// freezes the answer unless the question was skipped afterwards.
func (e *Engine) editable(qid string) error {
	if _, ok := e.store.Question(qid); !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	if _, graded := e.store.Feedback(qid); graded && !e.store.IsSkipped(qid) {
		return fmt.Errorf("%w: %s", model.ErrAlreadyGraded, qid)
	}
	return nil
}

// RecordAnswer stores the student's answer for qid.
func (e *Engine) RecordAnswer(ctx context.Context, qid string, a model.Answer) error {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return err
	}
	if err := e.editable(qid); err != nil {
		return err
	}
	e.store.RecordAnswer(qid, a)
	e.persist(ctx)
	return nil
}

// Submit validates and grades the recorded answer for qid. A skipped question
// may be resubmitted even if it already has feedback.
func (e *Engine) Submit(ctx context.Context, qid string) (model.Feedback, error) {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return model.Feedback{}, err
	}
	q, ok := e.store.Question(qid)
	if !ok {
		return model.Feedback{}, fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	a, ok := e.store.Answer(qid)
	if !ok || a.IsEmpty() {
		return model.Feedback{}, fmt.Errorf("%w: question %s has no answer", model.ErrValidation, qid)
	}
	if want := q.Type.AnswerKind(); a.Kind != want {
		return model.Feedback{}, fmt.Errorf("%w: question %s expects a %s answer, got %s", model.ErrValidation, qid, want, a.Kind)
	}
	if _, graded := e.store.Feedback(qid); graded && !e.store.IsSkipped(qid) {
		return model.Feedback{}, fmt.Errorf("%w: %s", model.ErrAlreadyGraded, qid)
	}
	if e.grader == nil {
		return model.Feedback{}, errors.New("no grader configured")
	}

	e.store.Unskip(qid)
	fb := e.grader.Grade(ctx, q, a, e.store.Scheme(qid))
	fb.Score = evaluator.Clamp(fb.Score, q.Marks)
	fb.TotalMarks = q.Marks
	e.store.RecordFeedback(qid, fb)
	e.persist(ctx)

	e.logger.Info("answer graded", "question", qid, "score", fb.Score, "marks", q.Marks, "source", fb.Source)
	return fb, nil
}

// Skip moves past qid without grading it. done reports that no question is left.
func (e *Engine) Skip(ctx context.Context, qid string) (next int, done bool, err error) {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return 0, false, err
	}
	if _, ok := e.store.Question(qid); !ok {
		return 0, false, fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	next, done = e.store.Skip(qid)
	e.persist(ctx)
	e.emitPage(next)
	return next, done, nil
}

// Next moves to the following question.
func (e *Engine) Next(ctx context.Context) (next int, done bool, err error) {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return 0, false, err
	}
	next, done = e.store.MoveToNext()
	e.persist(ctx)
	e.emitPage(next)
	return next, done, nil
}

// GoTo makes question i current.
func (e *Engine) GoTo(ctx context.Context, i int) error {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return err
	}
	if err := e.store.GoTo(i); err != nil {
		return err
	}
	e.persist(ctx)
	e.emitPage(i)
	return nil
}

// SetQuoteDraft stores a quote selected from the source extract.
func (e *Engine) SetQuoteDraft(ctx context.Context, qid, text string) error {
	if _, ok := e.store.Question(qid); !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	e.store.SetQuoteDraft(qid, text)
	e.persist(ctx)
	return nil
}

// InsertQuote appends the quote draft to the answer for qid. inserted is
// false when there is no draft or the question does not take a text answer.
func (e *Engine) InsertQuote(ctx context.Context, qid string) (inserted bool, err error) {
	if err := e.editable(qid); err != nil {
		return false, err
	}
	if !e.store.InsertQuoteIntoAnswer(qid) {
		return false, nil
	}
	e.persist(ctx)
	return true, nil
}

// Finish ends the exam and returns the report.
func (e *Engine) Finish(ctx context.Context) (summary.Report, error) {
	if err := e.requirePhase(model.PhaseExam); err != nil {
		return summary.Report{}, err
	}
	e.store.SetElapsed(e.timer.elapsed())
	e.persist(ctx)
	e.setPhase(model.PhaseSummary)
	return e.Summary(), nil
}

// Summary aggregates the feedback recorded so far.
func (e *Engine) Summary() summary.Report {
	snap := e.store.Snapshot()
	return summary.Calculate(snap.Questions, snap.Feedback)
}

// Resume restores the last stored session, if any.
func (e *Engine) Resume(ctx context.Context) bool {
	sess, ok := e.store.Restore(ctx)
	if !ok {
		return false
	}
	e.resumed(sess)
	return true
}

// ResumePaper restores the stored session for paperID, if any.
func (e *Engine) ResumePaper(ctx context.Context, paperID string) bool {
	sess, ok := e.store.RestoreForPaper(ctx, paperID)
	if !ok {
		return false
	}
	e.resumed(sess)
	return true
}

// HasSessionForPaper reports whether a stored session exists for paperID.
func (e *Engine) HasSessionForPaper(ctx context.Context, paperID string) bool {
	return e.store.HasSessionForPaper(ctx, paperID)
}

func (e *Engine) resumed(sess *model.Session) {
	e.timer.start(sess.ElapsedSeconds)
	e.emitPage(sess.CurrentIndex)
}

// Reset abandons the attempt and clears the stored snapshot.
func (e *Engine) Reset(ctx context.Context) error {
	e.timer.stop()
	e.mu.Lock()
	e.title = ""
	e.mu.Unlock()
	return e.store.Reset(ctx)
}

// Elapsed returns the exam time in seconds.
func (e *Engine) Elapsed() int { return e.timer.elapsed() }

// Close stops the exam timer.
func (e *Engine) Close() {
	e.timer.stop()
}

// Snapshot returns a copy of the session.
func (e *Engine) Snapshot() model.Session {
	s := e.store.Snapshot()
	if e.timer.running() {
		s.ElapsedSeconds = e.timer.elapsed()
	}
	return s
}

// Status summarises the attempt.
func (e *Engine) Status() Status {
	s := e.Snapshot()
	e.mu.Lock()
	title := e.title
	e.mu.Unlock()
	st := Status{
		Phase:        s.Phase,
		SessionID:    s.ID,
		PaperID:      s.PaperID,
		Title:        title,
		CurrentIndex: s.CurrentIndex,
		Total:        len(s.Questions),
		Graded:       len(s.Feedback),
		Skipped:      []string{},
		Elapsed:      s.ElapsedSeconds,
	}
	for _, q := range s.Questions {
		if s.Skipped[q.ID] {
			st.Skipped = append(st.Skipped, q.ID)
		}
	}
	return st
}

// Current returns the current question.
func (e *Engine) Current() (model.Question, int, error) {
	s := e.store.Snapshot()
	if len(s.Questions) == 0 {
		return model.Question{}, 0, model.ErrNoQuestions
	}
	return s.Questions[s.CurrentIndex], s.CurrentIndex, nil
}

// PageRequests delivers page navigation requests for the document renderer.
// Requests are dropped when nobody reads them.
func (e *Engine) PageRequests() <-chan PageRequest { return e.pages }

// PageFor returns the paper page that holds qid. ok is false when the
// question carries no page number.
func (e *Engine) PageFor(qid string) (PageRequest, bool) {
	q, ok := e.store.Question(qid)
	if !ok || q.PageNumber == nil {
		return PageRequest{}, false
	}
	req := PageRequest{QuestionID: qid, Page: *q.PageNumber}
	if paths := e.store.Snapshot().PaperFilePaths; len(paths) > 0 {
		req.FilePath = paths[0]
	}
	return req, true
}

func (e *Engine) emitPage(index int) {
	s := e.store.Snapshot()
	if index < 0 || index >= len(s.Questions) {
		return
	}
	req, ok := e.PageFor(s.Questions[index].ID)
	if !ok {
		return
	}
	select {
	case e.pages <- req:
	default:
	}
}

// persist writes the snapshot. Failures are logged by the store and never
// reach the caller.
func (e *Engine) persist(ctx context.Context) {
	if e.timer.running() {
		e.store.SetElapsed(e.timer.elapsed())
	}
	_ = e.store.Persist(ctx, e.store.Phase())
}

// Hint returns a hint for qid from the assistant or the local evaluator.
func (e *Engine) Hint(ctx context.Context, qid string) (string, error) {
	q, ok := e.store.Question(qid)
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	scheme := e.store.Scheme(qid)
	return e.assist(ctx, "hint",
		func(ctx context.Context, a Assistant) (string, error) { return a.Hint(ctx, q, scheme) },
		func() string { return evaluator.Hint(q, scheme) },
	), nil
}

// Explain expands on the feedback for a graded question.
func (e *Engine) Explain(ctx context.Context, qid string) (string, error) {
	q, answer, fb, scheme, err := e.graded(qid)
	if err != nil {
		return "", err
	}
	return e.assist(ctx, "explain",
		func(ctx context.Context, a Assistant) (string, error) {
			return a.ExplainFeedback(ctx, q, answer, fb, scheme)
		},
		func() string { return evaluator.Explanation(q, answer, fb, scheme) },
	), nil
}

// FollowUp sends a student message about a graded question and records both
// sides of the exchange.
func (e *Engine) FollowUp(ctx context.Context, qid, message string) (model.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return model.ChatMessage{}, fmt.Errorf("%w: empty message", model.ErrValidation)
	}
	q, answer, fb, scheme, err := e.graded(qid)
	if err != nil {
		return model.ChatMessage{}, err
	}

	e.store.AppendFollowUp(qid, model.ChatMessage{Role: model.RoleStudent, Content: message})
	history := e.store.FollowUps(qid)
	reply := e.assist(ctx, "followup",
		func(ctx context.Context, a Assistant) (string, error) {
			return a.FollowUp(ctx, q, answer, fb, scheme, history)
		},
		func() string { return evaluator.FollowUpReply(q, answer, fb, scheme, message) },
	)
	msg := model.ChatMessage{Role: model.RoleTutor, Content: reply, At: time.Now()}
	e.store.AppendFollowUp(qid, msg)
	e.persist(ctx)
	return msg, nil
}

// StudyPlan produces a revision plan from the current report.
func (e *Engine) StudyPlan(ctx context.Context) (string, error) {
	snap := e.store.Snapshot()
	if len(snap.Questions) == 0 {
		return "", model.ErrNoQuestions
	}
	r := summary.Calculate(snap.Questions, snap.Feedback)
	n := len(snap.Questions)
	return e.assist(ctx, "studyplan",
		func(ctx context.Context, a Assistant) (string, error) {
			return a.StudyPlan(ctx, r.Percentage, r.Weaknesses, n)
		},
		func() string { return evaluator.StudyPlan(r.Percentage, r.Weaknesses, n) },
	), nil
}

func (e *Engine) graded(qid string) (model.Question, model.Answer, model.Feedback, *model.MarkSchemeEntry, error) {
	q, ok := e.store.Question(qid)
	if !ok {
		return q, model.Answer{}, model.Feedback{}, nil, fmt.Errorf("%w: %s", model.ErrUnknownQuestion, qid)
	}
	fb, ok := e.store.Feedback(qid)
	if !ok {
		return q, model.Answer{}, model.Feedback{}, nil, fmt.Errorf("%w: %s", model.ErrNotGraded, qid)
	}
	answer, _ := e.store.Answer(qid)
	return q, answer, fb, e.store.Scheme(qid), nil
}

// assist calls the remote assistant under the retry policy and falls back to
// local when it is missing, fails or returns nothing.
func (e *Engine) assist(ctx context.Context, op string, remote func(context.Context, Assistant) (string, error), local func() string) string {
	if e.assistant != nil {
		opts := e.retry
		opts.Operation = op
		out, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
			return remote(ctx, e.assistant)
		}, opts)
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		}
		e.logger.Warn("assistant unavailable, using local fallback", "op", op, "error", err)
	}
	metrics.FallbacksTotal.WithLabelValues(op).Inc()
	return local()
}
