// Package summary aggregates graded feedback into an exam report.
package summary

import (
	"math"
	"sort"

	"github.com/pavelanni/mockexam/internal/model"
)

// Report is the aggregate result of an exam attempt.
type Report struct {
	TotalScore    float64          `json:"totalScore"`
	TotalPossible int              `json:"totalPossible"`
	Percentage    int              `json:"percentage"`
	Grade         string           `json:"grade"`
	Weaknesses    []model.Weakness `json:"weaknesses"`
	Answered      int              `json:"answered"`
}

// Calculate totals the feedback for questions. Unanswered questions score 0.
func Calculate(questions []model.Question, feedback map[string]model.Feedback) Report {
	var r Report
	for _, q := range questions {
		r.TotalPossible += q.Marks
		if fb, ok := feedback[q.ID]; ok {
			r.TotalScore += fb.Score
			r.Answered++
		}
	}
	if r.TotalPossible > 0 {
		r.Percentage = int(math.Round(100 * r.TotalScore / float64(r.TotalPossible)))
	}
	r.Grade = Grade(r.Percentage)
	r.Weaknesses = Weaknesses(feedback)
	return r
}

// Grade maps a percentage to a grade label.
func Grade(percentage int) string {
	switch {
	case percentage >= 90:
		return "9"
	case percentage >= 80:
		return "8"
	case percentage >= 70:
		return "7"
	case percentage >= 50:
		return "5"
	case percentage >= 40:
		return "4"
	default:
		return "U"
	}
}

// Weaknesses counts primary flaws, most frequent first. Equal counts are
// ordered by label.
func Weaknesses(feedback map[string]model.Feedback) []model.Weakness {
	counts := make(map[string]int)
	for _, fb := range feedback {
		if fb.PrimaryFlaw != "" {
			counts[fb.PrimaryFlaw]++
		}
	}
	out := make([]model.Weakness, 0, len(counts))
	for label, n := range counts {
		out = append(out, model.Weakness{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
