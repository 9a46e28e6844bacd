package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/handler"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the exam engine as a JSON API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("parser", "auto", "How uploaded papers are read (auto, llm, local)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	parser, err := parserFor(v.GetString("parser"), "", v.GetBool("offline"))
	if err != nil {
		return err
	}
	a, err := newApp(cmd, parser)
	if err != nil {
		return err
	}
	defer a.close()

	if a.grader != nil {
		pingCtx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
		if err := a.grader.Ping(pingCtx); err != nil {
			slog.Warn("LLM health check failed, grading will fall back locally", "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", a.grader.Model())
		}
		cancel()
	}

	h := handler.New(a.engine, handler.Options{Papers: a.db, Results: a.db, Logger: slog.Default()})

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", promhttp.Handler())
	h.Routes(r)

	go logPageRequests(a.ctx, a.engine.PageRequests())

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-a.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"store", v.GetString("store"),
		"grader_model", v.GetString("grader-model"),
		"offline", v.GetBool("offline"),
		"lang", lang,
		"resumed", a.resumed,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// logPageRequests drains page navigation requests. There is no document
// renderer in this process, so they are only logged.
func logPageRequests(ctx context.Context, pages <-chan exam.PageRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-pages:
			slog.Debug("page requested", "question", p.QuestionID, "page", p.Page, "file", p.FilePath)
		}
	}
}
