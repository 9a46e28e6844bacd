package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks an answer rejected before grading.
	ErrValidation = errors.New("invalid answer")
	// ErrAlreadyGraded is returned when feedback already exists for a question.
	ErrAlreadyGraded = errors.New("question already graded")
	// ErrUnknownQuestion is returned for IDs not in the loaded paper.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrNoQuestions is returned when a paper yields no questions.
	ErrNoQuestions = errors.New("no questions could be extracted")
	// ErrWrongPhase is returned when an operation is not allowed in the current phase.
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	// ErrNotGraded is returned by feedback operations on an ungraded question.
	ErrNotGraded = fmt.Errorf("%w: question has not been graded", ErrValidation)
)

// ProviderError is a non-retryable failure reported by an AI provider.
type ProviderError struct {
	Op    string
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Op, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError reports a remote response that is not valid structured output.
type ParseError struct {
	What string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports a failed read or write of the session snapshot.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
