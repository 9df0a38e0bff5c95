package util

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRequired         = errors.New("authentication required")
	ErrInvalidInput         = errors.New("`answers` must be an array of selected indices")
	ErrNotFound             = errors.New("resource not found")
	ErrNotEnrolled          = errors.New("user is not enrolled in this course")
	ErrDocumentTooLarge     = errors.New("document too large")
	ErrInvalidDocument      = errors.New("invalid document: only PDF files are accepted")
	ErrChapterLocked        = errors.New("chapter is locked: pass the previous chapter's quiz first")
	ErrEmailRegistered      = errors.New("email already registered")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrGenerationInProgress = errors.New("a course generation is already running for this user")
	ErrProgressNotFound     = errors.New("no generation progress found")
)

// GenerationError wraps a failed or malformed model call.
type GenerationError struct {
	Step string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Step, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func NewGenerationError(step string, err error) *GenerationError {
	return &GenerationError{Step: step, Err: err}
}

// PersistenceError wraps a failed atomic commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// NotFoundf 带上下文的 ErrNotFound
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// DocumentTooLargeError 页数超限，errors.Is 匹配 ErrDocumentTooLarge
type DocumentTooLargeError struct {
	Pages    int
	MaxPages int
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("PDF too large. Max allowed pages is %d", e.MaxPages)
}

func (e *DocumentTooLargeError) Is(target error) bool {
	return target == ErrDocumentTooLarge
}
