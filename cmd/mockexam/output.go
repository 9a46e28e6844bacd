package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/summary"
)

func phaseMessage(p model.Phase) string {
	switch p {
	case model.PhaseParsing:
		return "PhaseParsing"
	case model.PhaseExam:
		return "PhaseExam"
	case model.PhaseSummary:
		return "PhaseSummary"
	default:
		return "PhaseUpload"
	}
}

func printCurrent(a *app, w io.Writer) error {
	q, idx, err := a.engine.Current()
	if err != nil {
		return a.fail(err)
	}
	return printQuestion(a, w, a.engine.Snapshot(), q, idx)
}

func printQuestion(a *app, w io.Writer, s model.Session, q model.Question, idx int) error {
	fmt.Fprintf(w, "\n[%s] %s\n", q.ID, a.t("QuestionHeader", map[string]any{
		"Number": idx + 1,
		"Total":  len(s.Questions),
		"Marks":  q.Marks,
	}))
	if q.Section != "" {
		fmt.Fprintln(w, q.Section)
	}
	if q.Context != "" {
		fmt.Fprintln(w, q.Context)
	}
	fmt.Fprintln(w, q.Text)
	for i, opt := range q.Options {
		fmt.Fprintf(w, "  %c) %s\n", 'A'+rune(i), opt)
	}
	if q.TableStructure != nil {
		fmt.Fprintf(w, "  table: %s (%d rows)\n", strings.Join(q.TableStructure.Headers, " | "), q.TableStructure.Rows)
	}
	if q.GraphConfig != nil {
		g := q.GraphConfig
		fmt.Fprintf(w, "  graph: %s [%g, %g] / %s [%g, %g]\n", g.XLabel, g.XMin, g.XMax, g.YLabel, g.YMin, g.YMax)
	}
	if s.Skipped[q.ID] {
		fmt.Fprintln(w, "  (skipped)")
	}
	if ans, ok := s.Answers[q.ID]; ok && !ans.IsEmpty() {
		fmt.Fprintln(w)
		if ans.IsScalar() {
			fmt.Fprintf(w, "| %s\n", strings.ReplaceAll(strings.TrimRight(ans.Text, "\n"), "\n", "\n| "))
		} else if err := writeJSON(w, ans); err != nil {
			return err
		}
	}
	if fb, ok := s.Feedback[q.ID]; ok {
		printFeedback(a, w, fb)
	}
	return nil
}

func printFeedback(a *app, w io.Writer, fb model.Feedback) {
	fmt.Fprintf(w, "\n%s\n", a.t("MarksAwarded", map[string]any{
		"Score": strconv.FormatFloat(fb.Score, 'f', -1, 64),
		"Marks": fb.TotalMarks,
	}))
	if fb.Text != "" {
		fmt.Fprintln(w, fb.Text)
	}
	if fb.Rewrite != "" {
		fmt.Fprintf(w, "\n%s\n", fb.Rewrite)
	}
}

func printReport(a *app, w io.Writer, r summary.Report) {
	fmt.Fprintln(w, a.t("SummaryTotal", map[string]any{
		"Score":      strconv.FormatFloat(r.TotalScore, 'f', -1, 64),
		"Possible":   r.TotalPossible,
		"Percentage": r.Percentage,
		"Grade":      r.Grade,
	}))
	if len(r.Weaknesses) == 0 {
		fmt.Fprintln(w, a.t("NoWeaknesses", nil))
		return
	}
	for _, wk := range r.Weaknesses {
		fmt.Fprintln(w, "  "+appI18n.Tp(a.ctx, "WeaknessLine", wk.Count, map[string]any{"Label": wk.Label}))
	}
}
