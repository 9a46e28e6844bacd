package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/mockexam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing key.
	_, found, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected missing key to be not found")
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, found, err := s.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if val != "v1" {
		t.Errorf("expected v1, got %q", val)
	}

	// Upsert.
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set (upsert): %v", err)
	}
	val, _, _ = s.Get(ctx, "k")
	if val != "v2" {
		t.Errorf("expected v2 after upsert, got %q", val)
	}

	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("expected key to be gone after Remove")
	}
	// Removing again is fine.
	if err := s.Remove(ctx, "k"); err != nil {
		t.Errorf("Remove missing key: %v", err)
	}
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockexam.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set(ctx, "mockexam:session", `{"sessionId":"s1"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	val, found, err := s.Get(ctx, "mockexam:session")
	if err != nil || !found {
		t.Fatalf("Get after reopen: found=%v err=%v", found, err)
	}
	if val != `{"sessionId":"s1"}` {
		t.Errorf("unexpected value %q", val)
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("paper"), []byte("scheme"))
	b := HashContent([]byte("paper"), []byte("scheme"))
	c := HashContent([]byte("paper"), []byte("other"))
	if a != b {
		t.Error("expected identical content to hash identically")
	}
	if a == c {
		t.Error("expected different content to hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestPaperRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := HashContent([]byte("paper one"))
	p, created, err := s.PutPaper(ctx, hash, "Biology Paper 1", []string{"p1.pdf", "ms1.pdf"})
	if err != nil {
		t.Fatalf("PutPaper: %v", err)
	}
	if !created {
		t.Error("expected first PutPaper to create")
	}
	if p.ID == "" {
		t.Error("expected generated ID")
	}

	// Same hash is deduplicated.
	again, created, err := s.PutPaper(ctx, hash, "renamed", nil)
	if err != nil {
		t.Fatalf("PutPaper (dup): %v", err)
	}
	if created {
		t.Error("expected duplicate hash not to create")
	}
	if again.ID != p.ID || again.Title != "Biology Paper 1" {
		t.Errorf("expected existing paper, got %+v", again)
	}

	got, err := s.GetPaper(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if got == nil {
		t.Fatal("expected paper, got nil")
	}
	if len(got.FilePaths) != 2 || got.FilePaths[1] != "ms1.pdf" {
		t.Errorf("unexpected file paths %v", got.FilePaths)
	}

	missing, err := s.GetPaperByHash(ctx, "nope")
	if err != nil {
		t.Fatalf("GetPaperByHash: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown hash, got %+v", missing)
	}

	if _, _, err := s.PutPaper(ctx, HashContent([]byte("paper two")), "", nil); err != nil {
		t.Fatalf("PutPaper second: %v", err)
	}
	list, err := s.ListPapers(ctx)
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 papers, got %d", len(list))
	}
	for _, p := range list {
		if p.FilePaths == nil {
			t.Errorf("paper %s: expected non-nil file paths", p.ID)
		}
	}
}

func TestResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := model.SessionExport{
		SessionID:     "s1",
		PaperID:       "p1",
		ExportedAt:    base,
		Phase:         model.PhaseSummary,
		TotalScore:    8,
		TotalPossible: 20,
		Percentage:    40,
		Grade:         "4",
		Weaknesses:    []model.Weakness{{Label: "Missing analysis", Count: 2}},
	}
	second := first
	second.SessionID = "s2"
	second.ExportedAt = base.Add(time.Hour)
	second.Percentage = 91
	second.Grade = "9"
	other := first
	other.SessionID = "s3"
	other.PaperID = "p2"

	for _, r := range []model.SessionExport{first, second, other} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult %s: %v", r.SessionID, err)
		}
	}

	results, err := s.ListResults(ctx, "p1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for p1, got %d", len(results))
	}
	if results[0].SessionID != "s2" {
		t.Errorf("expected newest first, got %s", results[0].SessionID)
	}
	if results[1].Weaknesses[0].Label != "Missing analysis" {
		t.Errorf("weaknesses not round-tripped: %+v", results[1].Weaknesses)
	}

	all, err := s.ListResults(ctx, "")
	if err != nil {
		t.Fatalf("ListResults all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 results, got %d", len(all))
	}

	// Saving the same session replaces it.
	first.Percentage = 55
	first.Grade = "6"
	if err := s.SaveResult(ctx, first); err != nil {
		t.Fatalf("SaveResult replace: %v", err)
	}
	all, _ = s.ListResults(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected replace to keep 3 results, got %d", len(all))
	}
	got, err := s.GetResult(ctx, "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got == nil || got.Grade != "6" || got.Percentage != 55 {
		t.Errorf("expected replaced result, got %+v", got)
	}

	missing, err := s.GetResult(ctx, "nope")
	if err != nil {
		t.Fatalf("GetResult missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown session, got %+v", missing)
	}
}
