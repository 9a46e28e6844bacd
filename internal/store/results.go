package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/mockexam/internal/model"
)

// SaveResult archives a finished attempt. Saving the same session again
// replaces the earlier result.
func (s *Store) SaveResult(ctx context.Context, r model.SessionExport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (session_id, paper_id, percentage, grade, body, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET paper_id = excluded.paper_id,
		   percentage = excluded.percentage, grade = excluded.grade,
		   body = excluded.body, finished_at = excluded.finished_at`,
		r.SessionID, r.PaperID, r.Percentage, r.Grade, string(body), r.ExportedAt.UTC(),
	)
	return err
}

// ListResults returns archived attempts, newest first. An empty paperID
// lists every paper.
func (s *Store) ListResults(ctx context.Context, paperID string) ([]model.SessionExport, error) {
	query := `SELECT body FROM results`
	var args []any
	if paperID != "" {
		query += ` WHERE paper_id = ?`
		args = append(args, paperID)
	}
	query += ` ORDER BY finished_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SessionExport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r model.SessionExport
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetResult returns the archived attempt for sessionID, or nil.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.SessionExport, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM results WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r model.SessionExport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
