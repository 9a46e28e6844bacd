package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/mockexam/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict awards marks only for explicit points.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives the benefit of the doubt.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// Kind names a non-grading prompt.
type Kind string

const (
	KindTutor     Kind = "tutor"
	KindExtract   Kind = "extract"
	KindScheme    Kind = "scheme"
	KindHint      Kind = "hint"
	KindExplain   Kind = "explain"
	KindFollowUp  Kind = "followup"
	KindStudyPlan Kind = "studyplan"
)

const maxAnswerRunes = 10000

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// Data holds the values available to every template.
type Data struct {
	Question      model.Question
	Scheme        *model.MarkSchemeEntry
	Answer        string
	Score         string
	Flaw          string
	Document      string
	Insert        string
	Percentage    int
	QuestionCount int
	Weaknesses    []model.Weakness
}

// load parses all embedded templates once.
func load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		names := []string{
			"grade_" + string(PromptStrict),
			"grade_" + string(PromptStandard),
			"grade_" + string(PromptLenient),
			string(KindTutor), string(KindExtract), string(KindScheme),
			string(KindHint), string(KindExplain), string(KindFollowUp), string(KindStudyPlan),
		}
		for _, name := range names {
			file := "templates/" + name + ".tmpl"
			tmpl, err := template.New(name).ParseFS(templateFS, "templates/question.tmpl", file)
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func execute(name string, data Data) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// BuildGradePrompt builds the strict grading prompt for the given variant.
func BuildGradePrompt(variant PromptVariant, q model.Question, scheme *model.MarkSchemeEntry, answer string) (string, error) {
	if !validVariants[variant] {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	return execute("grade_"+string(variant), Data{
		Question: q,
		Scheme:   scheme,
		Answer:   SanitizeAnswer(answer),
	})
}

// Build renders one of the non-grading prompts. Answer and document text is
// sanitized before rendering.
func Build(kind Kind, data Data) (string, error) {
	data.Answer = SanitizeAnswer(data.Answer)
	data.Document = truncate(data.Document, 4*maxAnswerRunes)
	data.Insert = truncate(data.Insert, 4*maxAnswerRunes)
	return execute(string(kind), data)
}

// SanitizeAnswer strips prompt delimiter tags from student text and caps its length.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
