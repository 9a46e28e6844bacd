// Package llm is the AI provider gateway. It talks to any OpenAI-compatible
// endpoint and covers grading, tutoring, paper extraction and the study
// assistant operations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/mockexam/internal/evaluator"
	"github.com/pavelanni/mockexam/internal/llm/prompts"
	"github.com/pavelanni/mockexam/internal/metrics"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/paper"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An empty variant selects the standard grading prompt.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	if variant == "" {
		variant = prompts.PromptStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q (valid: strict, standard, lenient)", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return &model.ProviderError{Op: "ping", Err: err}
	}
	return nil
}

type request struct {
	op          string
	model       string
	messages    []openai.ChatCompletionMessage
	json        bool
	temperature float32
}

func (c *Client) complete(ctx context.Context, r request) (string, error) {
	if r.model == "" {
		r.model = c.model
	}
	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    r.messages,
		Temperature: r.temperature,
	}
	if r.json {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	metrics.RemoteCallLatency.WithLabelValues(r.op, r.model).Observe(time.Since(start).Seconds())
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("LLM returned no choices")
	}
	if err != nil {
		metrics.RemoteCallsTotal.WithLabelValues(r.op, r.model, "error").Inc()
		return "", &model.ProviderError{Op: r.op, Model: r.model, Err: err}
	}
	metrics.RemoteCallsTotal.WithLabelValues(r.op, r.model, "ok").Inc()

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "op", r.op, "model", r.model, "raw", raw)
	return raw, nil
}

func system(prompt string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}}
}

// GradeStrict asks modelName (or the default model when empty) for a
// {"score", "primary_flaw"} JSON verdict and returns the raw response.
func (c *Client) GradeStrict(ctx context.Context, modelName string, q model.Question, answer string, scheme *model.MarkSchemeEntry) (string, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, q, scheme, answer)
	if err != nil {
		return "", fmt.Errorf("build grade prompt: %w", err)
	}
	return c.complete(ctx, request{
		op:          "grade",
		model:       modelName,
		messages:    system(prompt),
		json:        true,
		temperature: 0.1,
	})
}

// Tutor asks for an explanation of an awarded mark and a model paragraph.
func (c *Client) Tutor(ctx context.Context, q model.Question, answer string, scheme *model.MarkSchemeEntry, score float64, flaw string) (string, error) {
	prompt, err := prompts.Build(prompts.KindTutor, prompts.Data{
		Question: q,
		Scheme:   scheme,
		Answer:   answer,
		Score:    evaluator.FormatScore(score),
		Flaw:     flaw,
	})
	if err != nil {
		return "", fmt.Errorf("build tutor prompt: %w", err)
	}
	return c.complete(ctx, request{op: "tutor", messages: system(prompt), temperature: 0.3})
}

// ExtractQuestions turns the text of a question paper into structured questions.
func (c *Client) ExtractQuestions(ctx context.Context, paperText, insert []byte) (model.ParsedPaper, error) {
	prompt, err := prompts.Build(prompts.KindExtract, prompts.Data{
		Document: string(paperText),
		Insert:   string(insert),
	})
	if err != nil {
		return model.ParsedPaper{}, fmt.Errorf("build extract prompt: %w", err)
	}
	raw, err := c.complete(ctx, request{op: "extract", messages: system(prompt), json: true, temperature: 0.1})
	if err != nil {
		return model.ParsedPaper{}, err
	}
	b, err := paper.DecodeParsedPaper([]byte(raw))
	if err != nil {
		return model.ParsedPaper{}, err
	}
	meta := b.Metadata
	if len(insert) > 0 && meta.Insert == "" {
		meta.Insert = string(insert)
	}
	return model.ParsedPaper{Questions: b.Questions, Metadata: meta}, nil
}

// ParseMarkScheme turns the text of a mark scheme into per-question entries.
func (c *Client) ParseMarkScheme(ctx context.Context, scheme []byte) (model.MarkScheme, error) {
	prompt, err := prompts.Build(prompts.KindScheme, prompts.Data{Document: string(scheme)})
	if err != nil {
		return nil, fmt.Errorf("build scheme prompt: %w", err)
	}
	raw, err := c.complete(ctx, request{op: "scheme", messages: system(prompt), json: true, temperature: 0.1})
	if err != nil {
		return nil, err
	}
	return paper.DecodeMarkScheme([]byte(raw))
}

// Hint gives a nudge for an unanswered question without revealing the answer.
func (c *Client) Hint(ctx context.Context, q model.Question, scheme *model.MarkSchemeEntry) (string, error) {
	prompt, err := prompts.Build(prompts.KindHint, prompts.Data{Question: q, Scheme: scheme})
	if err != nil {
		return "", fmt.Errorf("build hint prompt: %w", err)
	}
	return c.complete(ctx, request{op: "hint", messages: system(prompt), temperature: 0.5})
}

// ExplainFeedback explains an awarded mark in more depth.
func (c *Client) ExplainFeedback(ctx context.Context, q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry) (string, error) {
	prompt, err := prompts.Build(prompts.KindExplain, prompts.Data{
		Question: q,
		Scheme:   scheme,
		Answer:   evaluator.FlatText(answer),
		Score:    evaluator.FormatScore(fb.Score),
		Flaw:     fb.PrimaryFlaw,
	})
	if err != nil {
		return "", fmt.Errorf("build explain prompt: %w", err)
	}
	return c.complete(ctx, request{op: "explain", messages: system(prompt), temperature: 0.3})
}

// FollowUp continues a tutoring conversation. history holds the whole chat,
// ending with the student's latest message.
func (c *Client) FollowUp(ctx context.Context, q model.Question, answer model.Answer, fb model.Feedback, scheme *model.MarkSchemeEntry, history []model.ChatMessage) (string, error) {
	prompt, err := prompts.Build(prompts.KindFollowUp, prompts.Data{
		Question: q,
		Scheme:   scheme,
		Answer:   evaluator.FlatText(answer),
		Score:    evaluator.FormatScore(fb.Score),
		Flaw:     fb.PrimaryFlaw,
	})
	if err != nil {
		return "", fmt.Errorf("build follow-up prompt: %w", err)
	}

	msgs := system(prompt)
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleTutor {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: prompts.SanitizeAnswer(m.Content),
		})
	}
	return c.complete(ctx, request{op: "followup", messages: msgs, temperature: 0.3})
}

// StudyPlan writes a revision plan from the summary figures.
func (c *Client) StudyPlan(ctx context.Context, percentage int, weaknesses []model.Weakness, questionCount int) (string, error) {
	prompt, err := prompts.Build(prompts.KindStudyPlan, prompts.Data{
		Percentage:    percentage,
		QuestionCount: questionCount,
		Weaknesses:    weaknesses,
	})
	if err != nil {
		return "", fmt.Errorf("build study plan prompt: %w", err)
	}
	return c.complete(ctx, request{op: "studyplan", messages: system(prompt), temperature: 0.5})
}
