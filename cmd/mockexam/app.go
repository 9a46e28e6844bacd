package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mockexam/internal/cache"
	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/grading"
	"github.com/pavelanni/mockexam/internal/handler"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/llm"
	"github.com/pavelanni/mockexam/internal/llm/prompts"
	"github.com/pavelanni/mockexam/internal/paper"
	"github.com/pavelanni/mockexam/internal/retry"
	"github.com/pavelanni/mockexam/internal/session"
	"github.com/pavelanni/mockexam/internal/store"
)

// app holds everything one command invocation needs.
type app struct {
	ctx     context.Context
	v       *viper.Viper
	db      *store.Store
	engine  *exam.Engine
	grader  *llm.Client
	resumed bool
	closers []func() error
}

// newApp opens the stores, builds the AI clients and the engine, and restores
// the saved session. parser may be nil; the engine then parses uploads with
// the grader client, or locally when offline.
func newApp(cmd *cobra.Command, parser exam.Parser) (*app, error) {
	v := viperForCmd(cmd)
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	a := &app{
		ctx: appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(lang, "en")),
		v:   v,
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	kv, err := a.sessionKV()
	if err != nil {
		a.close()
		return nil, err
	}

	grader, tutor, err := remoteClients(v)
	if err != nil {
		a.close()
		return nil, err
	}
	a.grader = grader

	opts := retry.Options{
		MaxAttempts: v.GetInt("retry-attempts"),
		BaseDelay:   v.GetDuration("retry-base"),
		MaxDelay:    v.GetDuration("retry-max"),
		OnRetry: func(err error, attempt int) {
			slog.Debug("retrying remote call", "attempt", attempt+1, "error", err)
		},
	}

	cfg := exam.Config{Parser: parser, Retry: opts}
	gcfg := gradingConfig(v, "", opts)
	var (
		strict grading.StrictGrader
		tutorG grading.Tutor
	)
	// Typed nil clients must stay out of the interfaces.
	if grader != nil {
		strict = grader
		gcfg = gradingConfig(v, grader.Model(), opts)
		if cfg.Parser == nil {
			cfg.Parser = grader
		}
	}
	if tutor != nil {
		tutorG = tutor
		cfg.Assistant = tutor
	}
	if cfg.Parser == nil {
		cfg.Parser = paper.LocalParser{}
	}
	cfg.Grader = grading.New(gcfg, strict, tutorG, slog.Default())

	a.engine = exam.New(session.New(kv, slog.Default()), cfg)
	a.closers = append(a.closers, func() error { a.engine.Close(); return nil })
	a.resumed = a.engine.Resume(a.ctx)
	return a, nil
}

func (a *app) sessionKV() (session.KV, error) {
	switch strings.ToLower(a.v.GetString("store")) {
	case "", "sqlite":
		return a.db, nil
	case "redis":
		c, err := cache.New(a.ctx, a.v.GetString("redis-url"), a.v.GetDuration("redis-ttl"))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or redis)", a.v.GetString("store"))
	}
}

// remoteClients builds the grader and tutor clients. Both are nil offline.
// The tutor shares the grader client unless a separate endpoint, key or
// model is configured.
func remoteClients(v *viper.Viper) (grader, tutor *llm.Client, err error) {
	if v.GetBool("offline") {
		return nil, nil, nil
	}
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}

	url, key, model := v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("grader-model")
	grader, err = llm.New(url, key, model, prompts.PromptVariant(variant))
	if err != nil {
		return nil, nil, fmt.Errorf("create grader client: %w", err)
	}

	tURL := firstNonEmpty(v.GetString("tutor-url"), url)
	tKey := firstNonEmpty(v.GetString("tutor-key"), key)
	tModel := firstNonEmpty(v.GetString("tutor-model"), model)
	if tURL == url && tKey == key && tModel == model {
		return grader, grader, nil
	}
	tutor, err = llm.New(tURL, tKey, tModel, prompts.PromptVariant(variant))
	if err != nil {
		return nil, nil, fmt.Errorf("create tutor client: %w", err)
	}
	slog.Debug("using separate tutor endpoint", "url", tURL, "model", tModel)
	return grader, tutor, nil
}

// parserFor picks how an uploaded paper is read. Structured bundles are
// always parsed locally.
func parserFor(choice, path string, offline bool) (exam.Parser, error) {
	switch strings.ToLower(choice) {
	case "local":
		return paper.LocalParser{}, nil
	case "llm":
		if offline {
			return nil, errors.New("--parser=llm cannot be used with --offline")
		}
		return nil, nil
	case "", "auto":
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			return paper.LocalParser{}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown parser %q (want auto, llm or local)", choice)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// t localizes a message for the command output.
func (a *app) t(msgID string, data map[string]any) string {
	if data == nil {
		return appI18n.T(a.ctx, msgID)
	}
	return appI18n.Td(a.ctx, msgID, data)
}

// fail turns an engine error into a localized command error.
func (a *app) fail(err error) error {
	_, msgID := handler.Classify(err)
	slog.Debug("command failed", "error", err)
	return fmt.Errorf("%s (%w)", appI18n.T(a.ctx, msgID), err)
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(cmd *cobra.Command, parser exam.Parser, fn func(a *app) error) error {
	a, err := newApp(cmd, parser)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func firstNonEmpty(vals ...string) string {
	for _, s := range vals {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// gradingConfig builds the orchestrator config for the given primary model.
func gradingConfig(v *viper.Viper, primary string, opts retry.Options) grading.Config {
	return grading.Config{
		PrimaryModel:   primary,
		SecondaryModel: v.GetString("grader-fallback-model"),
		Retry:          opts,
	}
}
