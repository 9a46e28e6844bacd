// Package session holds the in-progress exam attempt and persists it to a
// durable key-value store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mockexam/internal/metrics"
	"github.com/pavelanni/mockexam/internal/model"
)

// SnapshotKey is the key the session snapshot is stored under.
const SnapshotKey = "mockexam:session"

// KV is a durable string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Store is the mutex-guarded session state. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	kv       KV
	logger   *slog.Logger
	now      func() time.Time
	sess     model.Session
	restored bool
}

// New creates an empty Store backed by kv.
func New(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger,
		now:    time.Now,
		sess:   model.NewSession(),
	}
}

// Load installs a freshly parsed session and moves it to the exam phase.
func (s *Store) Load(sess model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess = clone(sess)
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.Phase = model.PhaseExam
	sess.Timestamp = s.now()
	s.sess = sess
}

// Phase returns the current phase.
func (s *Store) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Phase
}

// SetPhase changes the current phase.
func (s *Store) SetPhase(p model.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Phase = p
}

// Question returns a loaded question by ID.
func (s *Store) Question(qid string) (model.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Question(qid)
}

// Answer returns a copy of the recorded answer for qid.
func (s *Store) Answer(qid string) (model.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.sess.Answers[qid]
	return a.Clone(), ok
}

// Feedback returns the recorded feedback for qid.
func (s *Store) Feedback(qid string) (model.Feedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.sess.Feedback[qid]
	return fb, ok
}

// Scheme returns the mark scheme entry for qid, or nil.
func (s *Store) Scheme(qid string) *model.MarkSchemeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.MarkScheme.Lookup(qid)
}

// RecordAnswer replaces the answer for qid. No validation is done here.
func (s *Store) RecordAnswer(qid string, a model.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Answers[qid] = a.Clone()
}

// Skip marks qid as skipped and advances the current index. done is true when
// there is no question left to move to.
func (s *Store) Skip(qid string) (next int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Skipped[qid] = true
	return s.advance()
}

// MoveToNext advances the current index without touching the skip set.
func (s *Store) MoveToNext() (next int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance()
}

func (s *Store) advance() (int, bool) {
	if s.sess.CurrentIndex+1 >= len(s.sess.Questions) {
		return s.sess.CurrentIndex, true
	}
	s.sess.CurrentIndex++
	return s.sess.CurrentIndex, false
}

// GoTo makes the question at index i current.
func (s *Store) GoTo(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.sess.Questions) {
		return model.ErrUnknownQuestion
	}
	s.sess.CurrentIndex = i
	return nil
}

// Unskip removes qid from the skip set.
func (s *Store) Unskip(qid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sess.Skipped, qid)
}

// IsSkipped reports whether qid is in the skip set.
func (s *Store) IsSkipped(qid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Skipped[qid]
}

// RecordFeedback stores the graded result for qid, marking it done.
func (s *Store) RecordFeedback(qid string, fb model.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Feedback[qid] = fb
}

// AppendFollowUp adds a message to the follow-up chat for qid.
func (s *Store) AppendFollowUp(qid string, msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.At.IsZero() {
		msg.At = s.now()
	}
	s.sess.FollowUpChats[qid] = append(s.sess.FollowUpChats[qid], msg)
}

// FollowUps returns a copy of the chat for qid.
func (s *Store) FollowUps(qid string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.sess.FollowUpChats[qid]...)
}

// SetQuoteDraft stores text the student selected from the source extract.
func (s *Store) SetQuoteDraft(qid, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.sess.QuoteDrafts, qid)
		return
	}
	s.sess.QuoteDrafts[qid] = text
}

// InsertQuoteIntoAnswer appends the quote draft for qid to its scalar answer
// as a "> " quoted block and clears the draft. It is a no-op when the draft is
// empty or the question does not take a scalar answer.
func (s *Store) InsertQuoteIntoAnswer(qid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := strings.TrimSpace(s.sess.QuoteDrafts[qid])
	if draft == "" {
		return false
	}
	q, ok := s.sess.Question(qid)
	if !ok || q.Type.AnswerKind() != model.KindScalar {
		return false
	}
	a, ok := s.sess.Answers[qid]
	if ok && !a.IsScalar() {
		return false
	}

	lines := strings.Split(draft, "\n")
	for i, l := range lines {
		lines[i] = "> " + strings.TrimRight(l, " \t\r")
	}
	quote := strings.Join(lines, "\n")

	text := strings.TrimRight(a.Text, "\n")
	if text != "" {
		text += "\n\n"
	}
	s.sess.Answers[qid] = model.TextAnswer(text + quote + "\n\n")
	delete(s.sess.QuoteDrafts, qid)
	return true
}

// SetElapsed records the exam timer value.
func (s *Store) SetElapsed(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.ElapsedSeconds = seconds
}

// Snapshot returns a deep copy of the current session.
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.sess)
}

// Persist writes the snapshot when phase is exam and at least one question is
// loaded. The snapshot is serialized under the lock at call time.
func (s *Store) Persist(ctx context.Context, phase model.Phase) error {
	s.mu.Lock()
	if phase != model.PhaseExam || len(s.sess.Questions) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.sess.Timestamp = s.now()
	data, err := json.Marshal(s.sess)
	s.mu.Unlock()
	if err != nil {
		return s.persistErr("encode", err)
	}

	if err := s.kv.Set(ctx, SnapshotKey, string(data)); err != nil {
		return s.persistErr("write", err)
	}
	return nil
}

// Restore loads the stored snapshot into memory. It runs at most once per
// Store; later calls, and calls after Reset, return false. Missing, corrupt or
// empty snapshots also return false.
func (s *Store) Restore(ctx context.Context) (*model.Session, bool) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return nil, false
	}
	s.restored = true
	s.mu.Unlock()

	return s.restoreMatching(ctx, "")
}

// RestoreForPaper loads the stored snapshot only if it belongs to paperID.
// It is an explicit user action, so it ignores the one-shot guard, but it
// prevents a later Restore from running.
func (s *Store) RestoreForPaper(ctx context.Context, paperID string) (*model.Session, bool) {
	if paperID == "" {
		return nil, false
	}
	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()

	return s.restoreMatching(ctx, paperID)
}

// HasSessionForPaper reports whether a valid snapshot for paperID is stored.
func (s *Store) HasSessionForPaper(ctx context.Context, paperID string) bool {
	if paperID == "" {
		return false
	}
	sess, ok := s.read(ctx)
	return ok && sess.PaperID == paperID
}

func (s *Store) restoreMatching(ctx context.Context, paperID string) (*model.Session, bool) {
	sess, ok := s.read(ctx)
	if !ok || (paperID != "" && sess.PaperID != paperID) {
		return nil, false
	}
	sess.Phase = model.PhaseExam
	if sess.CurrentIndex < 0 || sess.CurrentIndex >= len(sess.Questions) {
		sess.CurrentIndex = 0
	}

	s.mu.Lock()
	s.sess = clone(sess)
	s.mu.Unlock()

	s.logger.Info("session restored", "session", sess.ID, "paper", sess.PaperID, "questions", len(sess.Questions))
	return &sess, true
}

// read decodes the stored snapshot. Every failure is logged and reported as
// no session.
func (s *Store) read(ctx context.Context) (model.Session, bool) {
	raw, found, err := s.kv.Get(ctx, SnapshotKey)
	if err != nil {
		_ = s.persistErr("read", err)
		return model.Session{}, false
	}
	if !found || raw == "" {
		return model.Session{}, false
	}

	sess := model.NewSession()
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		_ = s.persistErr("decode", err)
		return model.Session{}, false
	}
	if len(sess.Questions) == 0 {
		return model.Session{}, false
	}
	return ensureMaps(sess), true
}

// Clear removes the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, SnapshotKey); err != nil {
		return s.persistErr("clear", err)
	}
	return nil
}

// Reset clears the stored snapshot and the in-memory session, and disables
// any pending Restore.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.sess = model.NewSession()
	s.restored = true
	s.mu.Unlock()
	return s.Clear(ctx)
}

func (s *Store) persistErr(op string, err error) error {
	metrics.PersistErrorsTotal.WithLabelValues(op).Inc()
	perr := &model.PersistenceError{Op: op, Err: err}
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("session persistence canceled", "op", op)
	} else {
		s.logger.Warn("session persistence failed", "op", op, "error", err)
	}
	return perr
}

func ensureMaps(s model.Session) model.Session {
	if s.Answers == nil {
		s.Answers = make(map[string]model.Answer)
	}
	if s.Feedback == nil {
		s.Feedback = make(map[string]model.Feedback)
	}
	if s.Skipped == nil {
		s.Skipped = make(map[string]bool)
	}
	if s.FollowUpChats == nil {
		s.FollowUpChats = make(map[string][]model.ChatMessage)
	}
	if s.QuoteDrafts == nil {
		s.QuoteDrafts = make(map[string]string)
	}
	if s.MarkScheme == nil {
		s.MarkScheme = make(model.MarkScheme)
	}
	return s
}

func clone(s model.Session) model.Session {
	out := s
	out.Questions = append([]model.Question(nil), s.Questions...)
	out.PaperFilePaths = append([]string(nil), s.PaperFilePaths...)

	out.Answers = make(map[string]model.Answer, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v.Clone()
	}
	out.Feedback = make(map[string]model.Feedback, len(s.Feedback))
	for k, v := range s.Feedback {
		out.Feedback[k] = v
	}
	out.Skipped = make(map[string]bool, len(s.Skipped))
	for k, v := range s.Skipped {
		out.Skipped[k] = v
	}
	out.FollowUpChats = make(map[string][]model.ChatMessage, len(s.FollowUpChats))
	for k, v := range s.FollowUpChats {
		out.FollowUpChats[k] = append([]model.ChatMessage(nil), v...)
	}
	out.QuoteDrafts = make(map[string]string, len(s.QuoteDrafts))
	for k, v := range s.QuoteDrafts {
		out.QuoteDrafts[k] = v
	}
	out.MarkScheme = make(model.MarkScheme, len(s.MarkScheme))
	for k, v := range s.MarkScheme {
		v.Criteria = append([]string(nil), v.Criteria...)
		v.AcceptableAnswers = append([]string(nil), v.AcceptableAnswers...)
		out.MarkScheme[k] = v
	}
	return out
}
