package exam

import (
	"time"

	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/summary"
)

// Export builds the results document for the current attempt.
func (e *Engine) Export(now time.Time) model.SessionExport {
	s := e.Snapshot()
	r := summary.Calculate(s.Questions, s.Feedback)

	out := model.SessionExport{
		SessionID:     s.ID,
		PaperID:       s.PaperID,
		ExportedAt:    now.UTC(),
		Phase:         s.Phase,
		TotalScore:    r.TotalScore,
		TotalPossible: r.TotalPossible,
		Percentage:    r.Percentage,
		Grade:         r.Grade,
		Weaknesses:    r.Weaknesses,
		Questions:     make([]model.QuestionResult, 0, len(s.Questions)),
	}
	for _, q := range s.Questions {
		qr := model.QuestionResult{
			ID:      q.ID,
			Section: q.Section,
			Text:    q.Text,
			Type:    q.Type,
			Marks:   q.Marks,
			Skipped: s.Skipped[q.ID],
		}
		if a, ok := s.Answers[q.ID]; ok {
			qr.Answer = &a
		}
		if fb, ok := s.Feedback[q.ID]; ok {
			qr.Feedback = &fb
		}
		for _, m := range s.FollowUpChats[q.ID] {
			qr.Conversation = append(qr.Conversation, model.ConversationMsg{
				Role:    string(m.Role),
				Content: m.Content,
				At:      m.At,
			})
		}
		out.Questions = append(out.Questions, qr)
	}
	return out
}
