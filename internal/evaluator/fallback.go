package evaluator

import (
	"fmt"
	"strings"

	"github.com/pavelanni/mockexam/internal/model"
)

// FlawExplanation is the templated explanation used when the tutor is
// unreachable but a strict grade is available.
func FlawExplanation(score float64, marks int, flaw string) string {
	msg := fmt.Sprintf("You scored %s/%d.", FormatScore(score), marks)
	if flaw != "" {
		msg += fmt.Sprintf(" The main weakness in this answer: %s.", flaw)
	}
	return msg + " A detailed explanation could not be generated, so compare your answer with the model answer below."
}

// Hint suggests what to cover without giving the answer away.
func Hint(q model.Question, scheme *model.MarkSchemeEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This question is worth %d mark%s", q.Marks, plural(q.Marks))
	if q.Marks > 1 {
		fmt.Fprintf(&sb, ", so aim for %d distinct points", q.Marks)
	}
	sb.WriteString(".")

	if scheme != nil {
		if c := firstNonEmpty(scheme.Criteria); c != "" {
			sb.WriteString(" Think about: " + c + ".")
		}
	}
	switch q.Type {
	case model.TypeNumerical:
		sb.WriteString(" Show your working and include units.")
	case model.TypeList:
		if q.ListCount > 0 {
			fmt.Fprintf(&sb, " Give %d separate items.", q.ListCount)
		}
	case model.TypeMultipleChoice:
		sb.WriteString(" Rule out the options you know are wrong first.")
	case model.TypeLongText:
		sb.WriteString(" Use evidence and explain its effect.")
	}
	if q.Context != "" {
		sb.WriteString(" Re-read the source extract before answering.")
	}
	return sb.String()
}

// Explanation describes a grade using the scheme points the answer missed.
func Explanation(q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You scored %s/%d.", FormatScore(fb.Score), q.Marks)
	if fb.PrimaryFlaw != "" {
		fmt.Fprintf(&sb, " The main issue: %s.", fb.PrimaryFlaw)
	}

	missed := MissedPoints(answer, scheme)
	if len(missed) > 0 {
		if len(missed) > MaxListedPoints {
			missed = missed[:MaxListedPoints]
		}
		sb.WriteString(" To gain more marks, cover: " + strings.Join(missed, "; ") + ".")
	} else if scheme == nil {
		sb.WriteString(" No mark scheme was available to compare against.")
	} else if fb.Score < float64(q.Marks) {
		sb.WriteString(" Develop each point with more detail and explanation.")
	}
	if m := ModelAnswer(q, scheme); m != "" {
		sb.WriteString(" Model answer: " + m)
	}
	return sb.String()
}

// MissedPoints lists scheme criteria not found in the answer.
func MissedPoints(answer model.Answer, scheme *model.MarkSchemeEntry) []string {
	if scheme == nil {
		return nil
	}
	text := Normalize(answer)
	var out []string
	for _, c := range scheme.Criteria {
		nc := normalizeText(c)
		if nc == "" || strings.Contains(text, nc) {
			continue
		}
		out = append(out, strings.TrimSpace(c))
	}
	return out
}

// FollowUpReply answers a student's follow-up question offline.
func FollowUpReply(q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry, message string) string {
	var sb strings.Builder
	sb.WriteString("The AI tutor is not available right now, so here is what the mark scheme says.")
	missed := MissedPoints(answer, scheme)
	switch {
	case len(missed) > 0:
		if len(missed) > MaxListedPoints {
			missed = missed[:MaxListedPoints]
		}
		sb.WriteString(" Points you could add: " + strings.Join(missed, "; ") + ".")
	case scheme == nil:
		sb.WriteString(" There is no mark scheme entry for this question.")
	default:
		sb.WriteString(" Your answer already touches every listed criterion.")
	}
	if strings.Contains(strings.ToLower(message), "why") && fb.PrimaryFlaw != "" {
		fmt.Fprintf(&sb, " Marks were lost mainly because of: %s.", fb.PrimaryFlaw)
	}
	if m := ModelAnswer(q, scheme); m != "" {
		sb.WriteString(" Model answer: " + m)
	}
	return sb.String()
}

// StudyPlan builds a revision plan from the exam result.
func StudyPlan(percentage int, weaknesses []model.Weakness, questionCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You scored %d%% across %d question%s.\n", percentage, questionCount, plural(questionCount))
	switch {
	case percentage >= 80:
		sb.WriteString("Focus: polish exam technique and timing.\n")
	case percentage >= 50:
		sb.WriteString("Focus: close the gaps in your recurring weak areas.\n")
	default:
		sb.WriteString("Focus: rebuild core knowledge before further past papers.\n")
	}
	if len(weaknesses) == 0 {
		sb.WriteString("1. Re-attempt any skipped questions.\n")
		sb.WriteString("2. Try another full paper under timed conditions.\n")
		return sb.String()
	}
	n := len(weaknesses)
	if n > MaxListedPoints {
		n = MaxListedPoints
	}
	for i, w := range weaknesses[:n] {
		fmt.Fprintf(&sb, "%d. Practise %s (seen %d time%s).\n", i+1, strings.ToLower(w.Label), w.Count, plural(w.Count))
	}
	fmt.Fprintf(&sb, "%d. Try another full paper under timed conditions.\n", n+1)
	return sb.String()
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
