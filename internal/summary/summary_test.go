package summary

import (
	"reflect"
	"testing"

	"github.com/pavelanni/mockexam/internal/model"
)

func TestCalculate(t *testing.T) {
	questions := []model.Question{
		{ID: "q1", Marks: 4},
		{ID: "q2", Marks: 6},
		{ID: "q3", Marks: 10},
	}
	feedback := map[string]model.Feedback{
		"q1": {Score: 2, TotalMarks: 4},
		"q2": {Score: 6, TotalMarks: 6},
		"q3": {Score: 0, TotalMarks: 10},
	}

	r := Calculate(questions, feedback)
	if r.TotalScore != 8 || r.TotalPossible != 20 {
		t.Errorf("totals = %v/%d, want 8/20", r.TotalScore, r.TotalPossible)
	}
	if r.Percentage != 40 || r.Grade != "4" {
		t.Errorf("percentage = %d grade = %q, want 40 and 4", r.Percentage, r.Grade)
	}
	if r.Answered != 3 {
		t.Errorf("Answered = %d", r.Answered)
	}
}

func TestCalculateUnansweredAndEmpty(t *testing.T) {
	r := Calculate([]model.Question{{ID: "q1", Marks: 5}}, nil)
	if r.TotalScore != 0 || r.Percentage != 0 || r.Grade != "U" || r.Answered != 0 {
		t.Errorf("got %+v", r)
	}

	r = Calculate(nil, nil)
	if r.TotalPossible != 0 || r.Percentage != 0 {
		t.Errorf("empty paper: %+v", r)
	}
	if r.Weaknesses == nil {
		t.Error("Weaknesses should be an empty list, not nil")
	}
}

func TestCalculateIgnoresStrayFeedback(t *testing.T) {
	r := Calculate([]model.Question{{ID: "q1", Marks: 2}}, map[string]model.Feedback{
		"q1":    {Score: 1},
		"other": {Score: 5},
	})
	if r.TotalScore != 1 || r.Percentage != 50 {
		t.Errorf("got %+v", r)
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{100, "9"}, {90, "9"}, {89, "8"}, {80, "8"}, {79, "7"}, {70, "7"},
		{69, "5"}, {51, "5"}, {50, "5"}, {49, "4"}, {41, "4"}, {40, "4"},
		{39, "U"}, {0, "U"},
	}
	for _, tt := range tests {
		if got := Grade(tt.pct); got != tt.want {
			t.Errorf("Grade(%d) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestWeaknesses(t *testing.T) {
	feedback := map[string]model.Feedback{
		"q1": {PrimaryFlaw: "A"},
		"q2": {PrimaryFlaw: "A"},
		"q3": {PrimaryFlaw: "B"},
		"q4": {},
	}
	want := []model.Weakness{{Label: "A", Count: 2}, {Label: "B", Count: 1}}
	if got := Weaknesses(feedback); !reflect.DeepEqual(got, want) {
		t.Errorf("Weaknesses() = %+v, want %+v", got, want)
	}
}

func TestWeaknessTiesSortByLabel(t *testing.T) {
	feedback := map[string]model.Feedback{
		"q1": {PrimaryFlaw: "Zeta"},
		"q2": {PrimaryFlaw: "Alpha"},
		"q3": {PrimaryFlaw: "Mid"},
	}
	got := Weaknesses(feedback)
	labels := []string{got[0].Label, got[1].Label, got[2].Label}
	if !reflect.DeepEqual(labels, []string{"Alpha", "Mid", "Zeta"}) {
		t.Errorf("labels = %v", labels)
	}
}
