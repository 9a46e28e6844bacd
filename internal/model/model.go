package model

import (
	"time"
)

// Phase is the stage of an exam attempt.
type Phase string

const (
	PhaseUpload  Phase = "upload"
	PhaseParsing Phase = "parsing"
	PhaseExam    Phase = "exam"
	PhaseSummary Phase = "summary"
)

// QuestionType identifies how a question is answered.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeShortText      QuestionType = "short_text"
	TypeLongText       QuestionType = "long_text"
	TypeList           QuestionType = "list"
	TypeNumerical      QuestionType = "numerical"
	TypeTable          QuestionType = "table"
	TypeGraphDrawing   QuestionType = "graph_drawing"
)

// AnswerKind returns the answer shape expected for the question type.
func (t QuestionType) AnswerKind() AnswerKind {
	switch t {
	case TypeList:
		return KindList
	case TypeTable:
		return KindGrid
	case TypeGraphDrawing:
		return KindGraph
	default:
		return KindScalar
	}
}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeMultipleChoice, TypeShortText, TypeLongText, TypeList,
		TypeNumerical, TypeTable, TypeGraphDrawing:
		return true
	}
	return false
}

// TableStructure describes the grid a table question expects.
type TableStructure struct {
	Headers []string `json:"headers" yaml:"headers"`
	Rows    int      `json:"rows" yaml:"rows"`
}

// GraphConfig describes the axes of a graph drawing question.
type GraphConfig struct {
	XLabel string  `json:"xLabel,omitempty" yaml:"xLabel,omitempty"`
	YLabel string  `json:"yLabel,omitempty" yaml:"yLabel,omitempty"`
	XMin   float64 `json:"xMin" yaml:"xMin"`
	XMax   float64 `json:"xMax" yaml:"xMax"`
	YMin   float64 `json:"yMin" yaml:"yMin"`
	YMax   float64 `json:"yMax" yaml:"yMax"`
}

// Question is one parsed exam question. It is not modified after parsing.
type Question struct {
	ID             string          `json:"id" yaml:"id"`
	Text           string          `json:"text" yaml:"text"`
	Type           QuestionType    `json:"type" yaml:"type"`
	Marks          int             `json:"marks" yaml:"marks"`
	Section        string          `json:"section,omitempty" yaml:"section,omitempty"`
	PageNumber     *int            `json:"pageNumber,omitempty" yaml:"pageNumber,omitempty"`
	Options        []string        `json:"options,omitempty" yaml:"options,omitempty"`
	ListCount      int             `json:"listCount,omitempty" yaml:"listCount,omitempty"`
	TableStructure *TableStructure `json:"tableStructure,omitempty" yaml:"tableStructure,omitempty"`
	GraphConfig    *GraphConfig    `json:"graphConfig,omitempty" yaml:"graphConfig,omitempty"`
	MarkingRegex   string          `json:"markingRegex,omitempty" yaml:"markingRegex,omitempty"`
	Context        string          `json:"context,omitempty" yaml:"context,omitempty"`
}

// MarkSchemeEntry holds the marking criteria for one question.
type MarkSchemeEntry struct {
	TotalMarks        int      `json:"totalMarks" yaml:"totalMarks"`
	Criteria          []string `json:"criteria" yaml:"criteria"`
	AcceptableAnswers []string `json:"acceptableAnswers" yaml:"acceptableAnswers"`
}

// MarkScheme maps question IDs to their entries. Entries may be missing.
type MarkScheme map[string]MarkSchemeEntry

// Lookup returns the entry for a question, or nil when the scheme has none.
func (m MarkScheme) Lookup(questionID string) *MarkSchemeEntry {
	e, ok := m[questionID]
	if !ok {
		return nil
	}
	return &e
}

// FeedbackSource records which grading tier produced a Feedback.
type FeedbackSource string

const (
	SourceFastPath   FeedbackSource = "fast_path"
	SourceAI         FeedbackSource = "ai"
	SourceAIDegraded FeedbackSource = "ai_degraded"
	SourceLocal      FeedbackSource = "local"
)

// Feedback is the graded result for one question.
// Score always lies in [0, TotalMarks].
type Feedback struct {
	Score       float64        `json:"score"`
	TotalMarks  int            `json:"totalMarks"`
	Text        string         `json:"text"`
	Rewrite     string         `json:"rewrite"`
	PrimaryFlaw string         `json:"primaryFlaw,omitempty"`
	Source      FeedbackSource `json:"source,omitempty"`
}

// Role is the author of a follow-up chat message.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "assistant"
)

// ChatMessage is one follow-up turn about a graded question.
type ChatMessage struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ParsedPaper is the result of extracting questions from a question paper.
type ParsedPaper struct {
	Questions []Question    `json:"questions" yaml:"questions"`
	Metadata  PaperMetadata `json:"metadata" yaml:"metadata"`
}

// PaperMetadata describes the paper the questions came from.
type PaperMetadata struct {
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Subject    string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Board      string `json:"board,omitempty" yaml:"board,omitempty"`
	TotalMarks int    `json:"totalMarks,omitempty" yaml:"totalMarks,omitempty"`
	Insert     string `json:"insert,omitempty" yaml:"insert,omitempty"`
}

// Session is the durable snapshot of one exam attempt.
type Session struct {
	ID             string                   `json:"id"`
	Phase          Phase                    `json:"phase"`
	Questions      []Question               `json:"questions"`
	Answers        map[string]Answer        `json:"answers"`
	Feedback       map[string]Feedback      `json:"feedback"`
	CurrentIndex   int                      `json:"currentIndex"`
	Skipped        map[string]bool          `json:"skipped"`
	FollowUpChats  map[string][]ChatMessage `json:"followUpChats"`
	QuoteDrafts    map[string]string        `json:"quoteDrafts"`
	InsertContent  string                   `json:"insertContent,omitempty"`
	MarkScheme     MarkScheme               `json:"markScheme"`
	PaperFilePaths []string                 `json:"paperFilePaths,omitempty"`
	PaperID        string                   `json:"paperId,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
	ElapsedSeconds int                      `json:"elapsedSeconds"`
}

// NewSession returns an empty session with all maps allocated.
func NewSession() Session {
	return Session{
		Phase:         PhaseUpload,
		Answers:       make(map[string]Answer),
		Feedback:      make(map[string]Feedback),
		Skipped:       make(map[string]bool),
		FollowUpChats: make(map[string][]ChatMessage),
		QuoteDrafts:   make(map[string]string),
		MarkScheme:    make(MarkScheme),
	}
}

// Question returns the question with the given ID.
func (s *Session) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// IndexOf returns the position of a question, or -1.
func (s *Session) IndexOf(id string) int {
	for i, q := range s.Questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}
