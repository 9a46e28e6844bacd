package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerKind tags the shape held by an Answer.
type AnswerKind string

const (
	KindScalar AnswerKind = "scalar"
	KindList   AnswerKind = "list"
	KindGrid   AnswerKind = "grid"
	KindGraph  AnswerKind = "graph"
)

// Point is a plotted point on a graph answer.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Line is a drawn segment on a graph answer.
type Line struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Graph is the answer to a graph drawing question.
type Graph struct {
	Points []Point `json:"points"`
	Lines  []Line  `json:"lines"`
}

// Answer is a tagged union over the answer shapes. Only the field selected by
// Kind is meaningful.
type Answer struct {
	Kind  AnswerKind `json:"kind"`
	Text  string     `json:"text,omitempty"`
	Items []string   `json:"items,omitempty"`
	Rows  [][]string `json:"rows,omitempty"`
	Graph *Graph     `json:"graph,omitempty"`
}

// TextAnswer builds a scalar answer (text, choice or number).
func TextAnswer(s string) Answer { return Answer{Kind: KindScalar, Text: s} }

// ListAnswer builds an ordered list answer.
func ListAnswer(items ...string) Answer { return Answer{Kind: KindList, Items: items} }

// GridAnswer builds a table answer.
func GridAnswer(rows [][]string) Answer { return Answer{Kind: KindGrid, Rows: rows} }

// GraphAnswer builds a graph answer.
func GraphAnswer(points []Point, lines []Line) Answer {
	return Answer{Kind: KindGraph, Graph: &Graph{Points: points, Lines: lines}}
}

// IsScalar reports whether the answer holds scalar text.
func (a Answer) IsScalar() bool { return a.Kind == KindScalar }

// IsEmpty reports whether the answer carries no content.
func (a Answer) IsEmpty() bool {
	switch a.Kind {
	case KindScalar:
		return strings.TrimSpace(a.Text) == ""
	case KindList:
		for _, it := range a.Items {
			if strings.TrimSpace(it) != "" {
				return false
			}
		}
		return true
	case KindGrid:
		for _, row := range a.Rows {
			for _, cell := range row {
				if strings.TrimSpace(cell) != "" {
					return false
				}
			}
		}
		return true
	case KindGraph:
		return a.Graph == nil || (len(a.Graph.Points) == 0 && len(a.Graph.Lines) == 0)
	}
	return true
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	out := Answer{Kind: a.Kind, Text: a.Text}
	if a.Items != nil {
		out.Items = append([]string(nil), a.Items...)
	}
	if a.Rows != nil {
		out.Rows = make([][]string, len(a.Rows))
		for i, r := range a.Rows {
			out.Rows[i] = append([]string(nil), r...)
		}
	}
	if a.Graph != nil {
		g := Graph{
			Points: append([]Point(nil), a.Graph.Points...),
			Lines:  append([]Line(nil), a.Graph.Lines...),
		}
		out.Graph = &g
	}
	return out
}

// ParseAnswer decodes a JSON answer value for the given question type. Bare JSON
// strings, numbers, arrays and objects are accepted as well as the tagged form.
func ParseAnswer(t QuestionType, raw json.RawMessage) (Answer, error) {
	var tagged Answer
	if err := json.Unmarshal(raw, &tagged); err == nil && tagged.Kind != "" {
		if tagged.Kind != t.AnswerKind() {
			return Answer{}, fmt.Errorf("%w: %s answer given for %s question", ErrValidation, tagged.Kind, t)
		}
		return tagged, nil
	}

	switch t.AnswerKind() {
	case KindScalar:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return TextAnswer(s), nil
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Answer{}, fmt.Errorf("%w: expected text or number", ErrValidation)
		}
		return TextAnswer(n.String()), nil
	case KindList:
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return Answer{}, fmt.Errorf("%w: expected a list of strings", ErrValidation)
		}
		return ListAnswer(items...), nil
	case KindGrid:
		var rows [][]string
		if err := json.Unmarshal(raw, &rows); err != nil {
			return Answer{}, fmt.Errorf("%w: expected a grid of strings", ErrValidation)
		}
		return GridAnswer(rows), nil
	default:
		var g Graph
		if err := json.Unmarshal(raw, &g); err != nil {
			return Answer{}, fmt.Errorf("%w: expected a graph with points and lines", ErrValidation)
		}
		return GraphAnswer(g.Points, g.Lines), nil
	}
}
