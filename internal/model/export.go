package model

import "time"

// SessionExport is the top-level JSON structure written by `mockexam export`.
type SessionExport struct {
	SessionID     string           `json:"session_id"`
	PaperID       string           `json:"paper_id,omitempty"`
	ExportedAt    time.Time        `json:"exported_at"`
	Phase         Phase            `json:"phase"`
	TotalScore    float64          `json:"total_score"`
	TotalPossible int              `json:"total_possible"`
	Percentage    int              `json:"percentage"`
	Grade         string           `json:"grade"`
	Weaknesses    []Weakness       `json:"weaknesses"`
	Questions     []QuestionResult `json:"questions"`
}

// Weakness is one bucket of the primary flaw histogram.
type Weakness struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	ID           string            `json:"id"`
	Section      string            `json:"section,omitempty"`
	Text         string            `json:"text"`
	Type         QuestionType      `json:"type"`
	Marks        int               `json:"marks"`
	Skipped      bool              `json:"skipped"`
	Answer       *Answer           `json:"answer,omitempty"`
	Feedback     *Feedback         `json:"feedback,omitempty"`
	Conversation []ConversationMsg `json:"conversation,omitempty"`
}

// ConversationMsg is a single follow-up message in an export.
type ConversationMsg struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}
