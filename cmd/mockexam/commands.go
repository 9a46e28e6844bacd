package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/mockexam/internal/exam"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/paper"
	"github.com/pavelanni/mockexam/internal/store"
	"github.com/pavelanni/mockexam/internal/summary"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start --paper FILE [--scheme FILE] [--insert FILE]",
		Short: "Register a paper and start (or resume) its exam",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	f := cmd.Flags()
	f.StringP("paper", "p", "", "Question paper (text for the AI parser, or a JSON/YAML bundle)")
	f.StringP("scheme", "s", "", "Mark scheme file")
	f.StringP("insert", "i", "", "Source insert or extract file")
	f.String("parser", "auto", "How the paper is read (auto, llm, local)")
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	paperPath := v.GetString("paper")
	parser, err := parserFor(v.GetString("parser"), paperPath, v.GetBool("offline"))
	if err != nil {
		return err
	}

	var up exam.Upload
	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{paperPath, &up.Paper},
		{v.GetString("scheme"), &up.MarkScheme},
		{v.GetString("insert"), &up.Insert},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.path, err)
		}
		*f.dst = data
		abs, err := filepath.Abs(f.path)
		if err != nil {
			abs = f.path
		}
		up.FilePaths = append(up.FilePaths, abs)
	}

	// A structured bundle may carry its own mark scheme.
	if _, local := parser.(paper.LocalParser); local && len(up.MarkScheme) == 0 {
		up.MarkScheme = up.Paper
	}

	return withApp(cmd, parser, func(a *app) error {
		hash := store.HashContent(up.Paper, up.MarkScheme, up.Insert)
		p, created, err := a.db.PutPaper(a.ctx, hash, filepath.Base(paperPath), up.FilePaths)
		if err != nil {
			return fmt.Errorf("register paper: %w", err)
		}
		up.PaperID = p.ID
		out := cmd.OutOrStdout()
		if !created {
			fmt.Fprintln(out, a.t("PaperKnown", map[string]any{"ID": p.ID}))
		}

		// Starting over a finished attempt is allowed; an unfinished one for
		// another paper is replaced.
		if a.resumed && a.engine.Snapshot().PaperID != p.ID {
			if err := a.engine.Reset(a.ctx); err != nil {
				return err
			}
		}
		resumed, err := a.engine.Open(a.ctx, up)
		if err != nil {
			return a.fail(err)
		}
		st := a.engine.Status()
		if resumed {
			fmt.Fprintln(out, a.t("SessionResumed", map[string]any{"ID": st.SessionID}))
		} else {
			title := st.Title
			if title == "" {
				title = p.Title
			}
			fmt.Fprintln(out, appI18n.Tp(a.ctx, "QuestionsExtracted", st.Total, map[string]any{"Title": title}))
		}
		return printCurrent(a, out)
	})
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Restore the saved session and show the current question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				out := cmd.OutOrStdout()
				if !a.resumed {
					fmt.Fprintln(out, a.t("NoSavedSession", nil))
					return nil
				}
				fmt.Fprintln(out, a.t("SessionResumed", map[string]any{"ID": a.engine.Status().SessionID}))
				return printCurrent(a, out)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withApp(cmd, nil, func(a *app) error {
				st := a.engine.Status()
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, st)
				}
				fmt.Fprintln(out, a.t(phaseMessage(st.Phase), nil))
				if st.Total == 0 {
					return nil
				}
				fmt.Fprintf(out, "%s  %d/%d graded", st.SessionID, st.Graded, st.Total)
				if len(st.Skipped) > 0 {
					fmt.Fprintf(out, ", skipped: %s", strings.Join(st.Skipped, ", "))
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, a.t("ElapsedTime", map[string]any{"Elapsed": time.Duration(st.Elapsed) * time.Second}))
				return nil
			})
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [QUESTION_ID]",
		Short: "Show a question with its answer and feedback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(a *app) error {
				if len(args) == 0 {
					return printCurrent(a, cmd.OutOrStdout())
				}
				s := a.engine.Snapshot()
				q, ok := s.Question(args[0])
				if !ok {
					return a.fail(fmt.Errorf("%w: %s", model.ErrUnknownQuestion, args[0]))
				}
				return printQuestion(a, cmd.OutOrStdout(), s, q, s.IndexOf(q.ID))
			})
		},
	}
}

func answerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer QUESTION_ID [ANSWER]",
		Short: "Record an answer (JSON for list, table and graph questions)",
		Long: "Record an answer. Text and numeric answers are taken as given; list, table and\n" +
			"graph answers are JSON, e.g. '[\"neon\",\"argon\"]'. With --stdin the answer is\n" +
			"read from standard input.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStdin, _ := cmd.Flags().GetBool("stdin")
			var raw string
			switch {
			case fromStdin:
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = string(data)
			case len(args) == 2:
				raw = args[1]
			default:
				return errors.New("an answer argument or --stdin is required")
			}
			return withApp(cmd, nil, func(a *app) error {
				s := a.engine.Snapshot()
				q, ok := s.Question(args[0])
				if !ok {
					return a.fail(fmt.Errorf("%w: %s", model.ErrUnknownQuestion, args[0]))
				}
				ans, err := model.ParseAnswer(q.Type, answerJSON(q.Type, raw))
				if err != nil {
					return a.fail(err)
				}
				if err := a.engine.RecordAnswer(a.ctx, q.ID, ans); err != nil {
					return a.fail(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.t("AnswerSaved", nil))
				return nil
			})
		},
	}
	cmd.Flags().Bool("stdin", false, "Read the answer from standard input")
	return cmd
}

// answerJSON encodes raw command-line input for model.ParseAnswer. Scalar
// answers are always text; other kinds must already be JSON.
func answerJSON(t model.QuestionType, raw string) json.RawMessage {
	if t.AnswerKind() == model.KindScalar {
		b, _ := json.Marshal(raw)
		return b
	}
	return json.RawMessage(strings.TrimSpace(raw))
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit QUESTION_ID",
		Short: "Grade the recorded answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(a *app) error {
				fb, err := a.engine.Submit(a.ctx, args[0])
				if err != nil {
					return a.fail(err)
				}
				printFeedback(a, cmd.OutOrStdout(), fb)
				return nil
			})
		},
	}
}

func skipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip QUESTION_ID",
		Short: "Skip a question for now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(a *app) error {
				if _, _, err := a.engine.Skip(a.ctx, args[0]); err != nil {
					return a.fail(err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, a.t("QuestionSkipped", nil))
				return printCurrent(a, out)
			})
		},
	}
}

func nextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Move to the next question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				if _, _, err := a.engine.Next(a.ctx); err != nil {
					return a.fail(err)
				}
				return printCurrent(a, cmd.OutOrStdout())
			})
		},
	}
}

func gotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto NUMBER",
		Short: "Jump to a question by its number (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid question number %q", args[0])
			}
			return withApp(cmd, nil, func(a *app) error {
				if err := a.engine.GoTo(a.ctx, n-1); err != nil {
					return a.fail(err)
				}
				return printCurrent(a, cmd.OutOrStdout())
			})
		},
	}
}

func hintCmd() *cobra.Command {
	return textCmd("hint QUESTION_ID", "Get a hint without revealing the answer",
		func(a *app, qid string) (string, error) { return a.engine.Hint(a.ctx, qid) })
}

func explainCmd() *cobra.Command {
	return textCmd("explain QUESTION_ID", "Explain the feedback for a graded question",
		func(a *app, qid string) (string, error) { return a.engine.Explain(a.ctx, qid) })
}

func textCmd(use, short string, fn func(a *app, qid string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(a *app) error {
				text, err := fn(a, args[0])
				if err != nil {
					return a.fail(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}

func followupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followup QUESTION_ID MESSAGE...",
		Short: "Ask the tutor about a graded question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(a *app) error {
				msg, err := a.engine.FollowUp(a.ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return a.fail(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.Content)
				return nil
			})
		},
	}
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote QUESTION_ID [TEXT]",
		Short: "Save a quote from the insert, or add the saved quote to the answer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			insert, _ := cmd.Flags().GetBool("insert")
			return withApp(cmd, nil, func(a *app) error {
				qid := args[0]
				if len(args) == 2 {
					if err := a.engine.SetQuoteDraft(a.ctx, qid, args[1]); err != nil {
						return a.fail(err)
					}
				}
				if insert {
					inserted, err := a.engine.InsertQuote(a.ctx, qid)
					if err != nil {
						return a.fail(err)
					}
					if !inserted {
						return errors.New("nothing to insert: no saved quote, or the answer is not text")
					}
					fmt.Fprintln(cmd.OutOrStdout(), a.t("QuoteInserted", nil))
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("insert", false, "Append the saved quote to the answer")
	return cmd
}

func finishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "End the exam, archive the result and show the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				report, err := a.engine.Finish(a.ctx)
				if err != nil {
					return a.fail(err)
				}
				result := a.engine.Export(time.Now())
				if err := a.db.SaveResult(a.ctx, result); err != nil {
					return fmt.Errorf("archive result: %w", err)
				}
				printReport(a, cmd.OutOrStdout(), report)
				// The archived result replaces the snapshot.
				return a.engine.Reset(a.ctx)
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the score so far, or the last finished attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				if a.resumed {
					printReport(a, cmd.OutOrStdout(), a.engine.Summary())
					return nil
				}
				r, err := latestResult(a, "")
				if err != nil {
					return err
				}
				printReport(a, cmd.OutOrStdout(), summary.Report{
					TotalScore:    r.TotalScore,
					TotalPossible: r.TotalPossible,
					Percentage:    r.Percentage,
					Grade:         r.Grade,
					Weaknesses:    r.Weaknesses,
				})
				return nil
			})
		},
	}
}

func studyPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "studyplan",
		Short: "Suggest what to revise based on the current attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				plan, err := a.engine.StudyPlan(a.ctx)
				if err != nil {
					return a.fail(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), plan)
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the attempt as JSON",
		Long:  "Export the current attempt, or an archived one with --session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			return withApp(cmd, nil, func(a *app) error {
				var result model.SessionExport
				switch id := v.GetString("session"); {
				case id != "":
					r, err := a.db.GetResult(a.ctx, id)
					if err != nil {
						return err
					}
					if r == nil {
						return fmt.Errorf("no archived result for session %s", id)
					}
					result = *r
				case a.resumed:
					result = a.engine.Export(time.Now())
				default:
					r, err := latestResult(a, "")
					if err != nil {
						return err
					}
					result = r
				}
				return writeOutput(a, cmd, v.GetString("output"), result)
			})
		},
	}
	f := cmd.Flags()
	f.String("session", "", "Archived session to export")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func papersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "papers",
		Short: "List registered papers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				papers, err := a.db.ListPapers(a.ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tADDED\tFILES")
				for _, p := range papers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.ID, p.Title, p.CreatedAt.Local().Format(time.DateTime), len(p.FilePaths))
				}
				return tw.Flush()
			})
		},
	}
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List finished attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			return withApp(cmd, nil, func(a *app) error {
				results, err := a.db.ListResults(a.ctx, v.GetString("paper"))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tPAPER\tFINISHED\tSCORE\tGRADE")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%d (%d%%)\t%s\n",
						r.SessionID, r.PaperID, r.ExportedAt.Local().Format(time.DateTime),
						strconv.FormatFloat(r.TotalScore, 'f', -1, 64), r.TotalPossible, r.Percentage, r.Grade)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().String("paper", "", "Only list attempts at this paper")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Abandon the current attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(a *app) error {
				if err := a.engine.Reset(a.ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.t("SessionCleared", nil))
				return nil
			})
		},
	}
}

func latestResult(a *app, paperID string) (model.SessionExport, error) {
	results, err := a.db.ListResults(a.ctx, paperID)
	if err != nil {
		return model.SessionExport{}, err
	}
	if len(results) == 0 {
		return model.SessionExport{}, errors.New(a.t("NoSavedSession", nil))
	}
	return results[0], nil
}

func writeOutput(a *app, cmd *cobra.Command, path string, v any) error {
	if path == "" || path == "-" {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	if err := writeJSON(f, v); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), a.t("ExportWritten", map[string]any{"Path": path}))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
