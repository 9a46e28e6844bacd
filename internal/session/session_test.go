package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
	sets   int
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var fixedNow = time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, kv KV) *Store {
	t.Helper()
	s := New(kv, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func samplePaper() model.Session {
	page := 2
	sess := model.NewSession()
	sess.PaperID = "paper-1"
	sess.PaperFilePaths = []string{"papers/bio.pdf", "papers/bio-ms.pdf"}
	sess.Questions = []model.Question{
		{ID: "q1", Text: "Name the organelle.", Type: model.TypeShortText, Marks: 1, PageNumber: &page},
		{ID: "q2", Text: "List two gases.", Type: model.TypeList, Marks: 2, ListCount: 2},
		{ID: "q3", Text: "Complete the table.", Type: model.TypeTable, Marks: 2,
			TableStructure: &model.TableStructure{Headers: []string{"Gas", "Test"}, Rows: 2}},
		{ID: "q4", Text: "Plot the data.", Type: model.TypeGraphDrawing, Marks: 3,
			GraphConfig: &model.GraphConfig{XLabel: "t", YLabel: "v", XMax: 10, YMax: 5}},
	}
	sess.MarkScheme = model.MarkScheme{
		"q1": {TotalMarks: 1, Criteria: []string{"nucleus"}, AcceptableAnswers: []string{"nucleus"}},
	}
	return sess
}

func TestLoadEntersExam(t *testing.T) {
	s := newTestStore(t, newMemKV())
	s.Load(samplePaper())
	snap := s.Snapshot()
	if snap.Phase != model.PhaseExam {
		t.Errorf("Phase = %q", snap.Phase)
	}
	if snap.ID == "" {
		t.Error("Load should assign a session id")
	}
	if !snap.Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v", snap.Timestamp)
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	kv := newMemKV()
	s := newTestStore(t, kv)
	s.Load(samplePaper())

	s.RecordAnswer("q1", model.TextAnswer("Nucleus"))
	s.RecordAnswer("q2", model.ListAnswer("oxygen", "nitrogen"))
	s.RecordAnswer("q3", model.GridAnswer([][]string{{"CO2", "limewater"}, {"H2", "squeaky pop"}}))
	s.RecordAnswer("q4", model.GraphAnswer([]model.Point{{X: 1, Y: 2}}, []model.Line{{X1: 0, Y1: 0, X2: 1, Y2: 2}}))
	s.RecordFeedback("q1", model.Feedback{Score: 1, TotalMarks: 1, Text: "Correct.", Source: model.SourceFastPath})
	s.RecordFeedback("q2", model.Feedback{Score: 1.5, TotalMarks: 2, Text: "Nearly.", PrimaryFlaw: "Imprecise", Source: model.SourceAI})
	s.AppendFollowUp("q2", model.ChatMessage{Role: model.RoleStudent, Content: "Why 1.5?"})
	s.Skip("q3")
	s.SetQuoteDraft("q1", "cell nucleus")
	s.SetElapsed(95)

	if err := s.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	want := s.Snapshot()

	restored := newTestStore(t, kv)
	got, ok := restored.Restore(context.Background())
	if !ok {
		t.Fatal("Restore returned no session")
	}

	if !reflect.DeepEqual(got.Questions, want.Questions) {
		t.Errorf("questions differ:\n got %+v\nwant %+v", got.Questions, want.Questions)
	}
	if !reflect.DeepEqual(got.Answers, want.Answers) {
		t.Errorf("answers differ:\n got %+v\nwant %+v", got.Answers, want.Answers)
	}
	if !reflect.DeepEqual(got.Feedback, want.Feedback) {
		t.Errorf("feedback differ:\n got %+v\nwant %+v", got.Feedback, want.Feedback)
	}
	if !reflect.DeepEqual(got.Skipped, want.Skipped) || got.CurrentIndex != want.CurrentIndex {
		t.Errorf("navigation differs: %v/%d vs %v/%d", got.Skipped, got.CurrentIndex, want.Skipped, want.CurrentIndex)
	}
	if len(got.FollowUpChats["q2"]) != 1 || got.QuoteDrafts["q1"] != "cell nucleus" {
		t.Errorf("chat or drafts lost: %+v %+v", got.FollowUpChats, got.QuoteDrafts)
	}
	if got.ElapsedSeconds != 95 || got.PaperID != "paper-1" {
		t.Errorf("ElapsedSeconds = %d, PaperID = %q", got.ElapsedSeconds, got.PaperID)
	}
	if restored.Snapshot().ID != want.ID {
		t.Error("restored session should be installed in memory")
	}
}

func TestPersistOnlyDuringExam(t *testing.T) {
	kv := newMemKV()
	s := newTestStore(t, kv)

	if err := s.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}
	if kv.sets != 0 {
		t.Error("persist with no questions should be a no-op")
	}

	s.Load(samplePaper())
	for _, phase := range []model.Phase{model.PhaseUpload, model.PhaseParsing, model.PhaseSummary} {
		if err := s.Persist(context.Background(), phase); err != nil {
			t.Fatal(err)
		}
	}
	if kv.sets != 0 {
		t.Errorf("persist outside exam wrote %d times", kv.sets)
	}

	if err := s.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}
	if kv.sets != 1 {
		t.Errorf("sets = %d, want 1", kv.sets)
	}
}

func TestPersistWriteError(t *testing.T) {
	kv := newMemKV()
	kv.setErr = errors.New("quota exceeded")
	s := newTestStore(t, kv)
	s.Load(samplePaper())

	err := s.Persist(context.Background(), model.PhaseExam)
	var pe *model.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "write" {
		t.Errorf("expected write PersistenceError, got %v", err)
	}
}

func TestRestoreIsOneShot(t *testing.T) {
	kv := newMemKV()
	writer := newTestStore(t, kv)
	writer.Load(samplePaper())
	if err := writer.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, kv)
	if _, ok := s.Restore(context.Background()); !ok {
		t.Fatal("first Restore should succeed")
	}
	s.RecordAnswer("q1", model.TextAnswer("advanced state"))
	if _, ok := s.Restore(context.Background()); ok {
		t.Error("second Restore should be refused")
	}
	if a, _ := s.Answer("q1"); a.Text != "advanced state" {
		t.Error("in-memory state was overwritten")
	}
}

func TestResetBlocksRestore(t *testing.T) {
	kv := newMemKV()
	s := newTestStore(t, kv)
	s.Load(samplePaper())
	if err := s.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok := kv.data[SnapshotKey]; ok {
		t.Error("Reset should remove the stored snapshot")
	}
	if s.Phase() != model.PhaseUpload || len(s.Snapshot().Questions) != 0 {
		t.Error("Reset should clear memory")
	}
	if _, ok := s.Restore(context.Background()); ok {
		t.Error("Restore after Reset should be refused")
	}
}

func TestRestoreInvalidSnapshots(t *testing.T) {
	tests := []struct {
		name string
		data string
		set  bool
	}{
		{"missing", "", false},
		{"corrupt", "{not json", true},
		{"empty questions", `{"id":"s1","questions":[]}`, true},
		{"wrong shape", `{"questions": "q1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newMemKV()
			if tt.set {
				kv.data[SnapshotKey] = tt.data
			}
			s := newTestStore(t, kv)
			if sess, ok := s.Restore(context.Background()); ok || sess != nil {
				t.Errorf("Restore() = %v, %v; want nil, false", sess, ok)
			}
		})
	}
}

func TestRestoreForPaper(t *testing.T) {
	kv := newMemKV()
	writer := newTestStore(t, kv)
	writer.Load(samplePaper())
	if err := writer.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, kv)
	if !s.HasSessionForPaper(context.Background(), "paper-1") {
		t.Error("HasSessionForPaper(paper-1) = false")
	}
	if s.HasSessionForPaper(context.Background(), "paper-2") {
		t.Error("HasSessionForPaper(paper-2) = true")
	}
	if _, ok := s.RestoreForPaper(context.Background(), "paper-2"); ok {
		t.Error("RestoreForPaper should not restore another paper")
	}
	if _, ok := s.RestoreForPaper(context.Background(), "paper-1"); !ok {
		t.Error("RestoreForPaper(paper-1) should succeed")
	}
	if _, ok := s.Restore(context.Background()); ok {
		t.Error("Restore after RestoreForPaper should be refused")
	}
}

func TestClear(t *testing.T) {
	kv := newMemKV()
	s := newTestStore(t, kv)
	s.Load(samplePaper())
	if err := s.Persist(context.Background(), model.PhaseExam); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(kv.data) != 0 {
		t.Error("Clear should remove the snapshot")
	}
	if len(s.Snapshot().Questions) != 4 {
		t.Error("Clear should not touch memory")
	}
}

func TestSkipAndMoveToNext(t *testing.T) {
	s := newTestStore(t, newMemKV())
	s.Load(samplePaper())

	next, done := s.Skip("q1")
	if next != 1 || done {
		t.Errorf("Skip() = %d, %v; want 1, false", next, done)
	}
	if !s.IsSkipped("q1") {
		t.Error("q1 should be skipped")
	}

	s.MoveToNext()
	next, done = s.MoveToNext()
	if next != 3 || done {
		t.Errorf("MoveToNext() = %d, %v; want 3, false", next, done)
	}
	if s.IsSkipped("q2") || s.IsSkipped("q3") {
		t.Error("MoveToNext should not change the skip set")
	}

	next, done = s.Skip("q4")
	if next != 3 || !done {
		t.Errorf("Skip at last question = %d, %v; want 3, true", next, done)
	}

	s.Unskip("q1")
	if s.IsSkipped("q1") {
		t.Error("Unskip should remove q1")
	}
}

func TestGoTo(t *testing.T) {
	s := newTestStore(t, newMemKV())
	s.Load(samplePaper())
	if err := s.GoTo(2); err != nil || s.Snapshot().CurrentIndex != 2 {
		t.Errorf("GoTo(2): %v", err)
	}
	if err := s.GoTo(9); !errors.Is(err, model.ErrUnknownQuestion) {
		t.Errorf("GoTo(9) = %v", err)
	}
}

func TestInsertQuoteIntoAnswer(t *testing.T) {
	s := newTestStore(t, newMemKV())
	sess := samplePaper()
	sess.Questions = append(sess.Questions, model.Question{ID: "q5", Text: "Discuss the mood.", Type: model.TypeLongText, Marks: 4})
	s.Load(sess)

	if s.InsertQuoteIntoAnswer("q1") {
		t.Error("empty draft should be a no-op")
	}

	s.RecordAnswer("q1", model.TextAnswer("The writer says"))
	s.SetQuoteDraft("q1", "the door creaked\nslowly open")
	if !s.InsertQuoteIntoAnswer("q1") {
		t.Fatal("InsertQuoteIntoAnswer returned false")
	}
	a, _ := s.Answer("q1")
	want := "The writer says\n\n> the door creaked\n> slowly open\n\n"
	if a.Text != want {
		t.Errorf("answer = %q, want %q", a.Text, want)
	}
	if _, ok := s.Snapshot().QuoteDrafts["q1"]; ok {
		t.Error("draft should be cleared")
	}

	s.SetQuoteDraft("q5", "fresh quote")
	s.InsertQuoteIntoAnswer("q5")
	if a, _ := s.Answer("q5"); a.Text != "> fresh quote\n\n" {
		t.Errorf("answer without prior text = %q", a.Text)
	}

	s.SetQuoteDraft("q3", "argon")
	if s.InsertQuoteIntoAnswer("q3") {
		t.Error("table questions without an answer should not take quotes")
	}
	if _, ok := s.Answer("q3"); ok {
		t.Error("quote should not create an answer for a table question")
	}

	s.SetQuoteDraft("q9", "missing")
	if s.InsertQuoteIntoAnswer("q9") {
		t.Error("unknown questions should not take quotes")
	}

	s.RecordAnswer("q2", model.ListAnswer("oxygen"))
	s.SetQuoteDraft("q2", "nitrogen")
	if s.InsertQuoteIntoAnswer("q2") {
		t.Error("non-scalar answers should not take quotes")
	}
	if s.Snapshot().QuoteDrafts["q2"] != "nitrogen" {
		t.Error("draft should be kept for non-scalar answers")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(t, newMemKV())
	s.Load(samplePaper())
	s.RecordAnswer("q2", model.ListAnswer("oxygen"))

	snap := s.Snapshot()
	snap.Answers["q2"].Items[0] = "changed"
	snap.Skipped["q1"] = true
	snap.MarkScheme["q1"].Criteria[0] = "changed"

	again := s.Snapshot()
	if again.Answers["q2"].Items[0] != "oxygen" || again.Skipped["q1"] || again.MarkScheme["q1"].Criteria[0] != "nucleus" {
		t.Error("Snapshot shares state with the store")
	}
}

func TestConcurrentMutateAndPersist(t *testing.T) {
	kv := newMemKV()
	s := newTestStore(t, kv)
	s.Load(samplePaper())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qid := fmt.Sprintf("q%d", i%4+1)
			s.RecordAnswer(qid, model.TextAnswer(fmt.Sprint(i)))
			s.AppendFollowUp(qid, model.ChatMessage{Role: model.RoleStudent, Content: "hi"})
			_ = s.Persist(context.Background(), model.PhaseExam)
		}(i)
	}
	wg.Wait()

	restored := newTestStore(t, kv)
	if _, ok := restored.Restore(context.Background()); !ok {
		t.Fatal("snapshot should be valid after concurrent writes")
	}
}
