package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mockexam/internal/grading"
	"github.com/pavelanni/mockexam/internal/llm/prompts"
	"github.com/pavelanni/mockexam/internal/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mockexam",
		Short:        "Mock exam sessions with tiered AI grading",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Credentials usually live in .env next to the database.
			_ = godotenv.Load()
			setupLogging(cmd)
		},
	}

	f := root.PersistentFlags()
	f.String("db", "mockexam.db", "SQLite database path")
	f.String("store", "sqlite", "Session store backend (sqlite, redis)")
	f.String("redis-url", "redis://localhost:6379/0", "Redis URL when --store=redis")
	f.Duration("redis-ttl", 7*24*time.Hour, "Expiry of the session snapshot in Redis (0 = never)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the grader endpoint")
	f.String("grader-model", "llama3.2", "Primary strict grading model")
	f.String("grader-fallback-model", grading.DefaultSecondaryModel, "Secondary grading model tried when the primary fails")
	f.String("tutor-url", "", "Tutor endpoint (defaults to --llm-url)")
	f.String("tutor-key", "", "Tutor API key (defaults to --llm-key)")
	f.String("tutor-model", "", "Tutor model (defaults to --grader-model)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Bool("offline", false, "Never call the AI provider; grade and assist locally")
	f.Int("retry-attempts", retry.DefaultOptions.MaxAttempts, "Attempts per remote call")
	f.Duration("retry-base", retry.DefaultOptions.BaseDelay, "Base backoff delay")
	f.Duration("retry-max", retry.DefaultOptions.MaxDelay, "Maximum backoff delay")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json, tint)")

	root.AddCommand(
		serveCmd(),
		startCmd(),
		resumeCmd(),
		statusCmd(),
		showCmd(),
		answerCmd(),
		submitCmd(),
		skipCmd(),
		nextCmd(),
		gotoCmd(),
		hintCmd(),
		explainCmd(),
		followupCmd(),
		quoteCmd(),
		finishCmd(),
		summaryCmd(),
		studyPlanCmd(),
		exportCmd(),
		papersCmd(),
		resultsCmd(),
		resetCmd(),
	)
	return root
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	case "tint":
		logHandler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MOCKEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mockexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mockexam")
	v.AddConfigPath("/etc/mockexam")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}
