package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Paper is a registered question paper. Papers are deduplicated by the
// sha256 of their content.
type Paper struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Title     string    `json:"title,omitempty"`
	FilePaths []string  `json:"filePaths"`
	CreatedAt time.Time `json:"createdAt"`
}

// HashContent returns the hex sha256 of the concatenated documents.
func HashContent(docs ...[]byte) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PutPaper registers a paper by content hash. If a paper with the same hash
// exists it is returned unchanged and created is false.
func (s *Store) PutPaper(ctx context.Context, hash, title string, filePaths []string) (p Paper, created bool, err error) {
	existing, err := s.GetPaperByHash(ctx, hash)
	if err != nil {
		return Paper{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	if filePaths == nil {
		filePaths = []string{}
	}
	paths, err := json.Marshal(filePaths)
	if err != nil {
		return Paper{}, false, err
	}
	p = Paper{
		ID:        uuid.NewString(),
		Hash:      hash,
		Title:     title,
		FilePaths: filePaths,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO papers (id, hash, title, file_paths, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Hash, p.Title, string(paths), p.CreatedAt,
	)
	if err != nil {
		return Paper{}, false, fmt.Errorf("insert paper: %w", err)
	}
	return p, true, nil
}

// GetPaperByHash returns the paper with the given content hash, or nil.
func (s *Store) GetPaperByHash(ctx context.Context, hash string) (*Paper, error) {
	return s.scanPaper(s.db.QueryRowContext(ctx,
		`SELECT id, hash, title, file_paths, created_at FROM papers WHERE hash = ?`, hash))
}

// GetPaper returns the paper with the given ID, or nil.
func (s *Store) GetPaper(ctx context.Context, id string) (*Paper, error) {
	return s.scanPaper(s.db.QueryRowContext(ctx,
		`SELECT id, hash, title, file_paths, created_at FROM papers WHERE id = ?`, id))
}

// ListPapers returns all papers, newest first.
func (s *Store) ListPapers(ctx context.Context) ([]Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, title, file_paths, created_at FROM papers ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var papers []Paper
	for rows.Next() {
		p, err := s.scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPaper(row scanner) (*Paper, error) {
	var p Paper
	var paths string
	err := row.Scan(&p.ID, &p.Hash, &p.Title, &paths, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paths), &p.FilePaths); err != nil {
		return nil, fmt.Errorf("decode file paths for paper %s: %w", p.ID, err)
	}
	return &p, nil
}
