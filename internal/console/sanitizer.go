package console

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// InputKind names what a line of user input is for.
type InputKind string

const (
	InputIdea   InputKind = "product idea"
	InputAnswer InputKind = "answer"
)

// EnvMaxInputSize overrides both default limits.
const EnvMaxInputSize = "PRDFLOW_MAX_INPUT_SIZE"

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// InputError rejects one line of input. The driver asks again.
type InputError struct {
	Kind  InputKind
	Size  int
	Limit int
	Err   error
}

func (e *InputError) Error() string {
	if errors.Is(e.Err, ErrInputTooLarge) {
		return fmt.Sprintf("%s too long (%d bytes, limit %d)", e.Kind, e.Size, e.Limit)
	}
	return fmt.Sprintf("%s rejected: %v", e.Kind, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// InputLimits bounds the size in bytes of the product idea and of each
// clarification answer.
type InputLimits struct {
	Idea   int
	Answer int
}

// DefaultInputLimits returns the built-in limits, or the EnvMaxInputSize
// value for both when it is a positive integer.
func DefaultInputLimits() InputLimits {
	l := InputLimits{Idea: 4096, Answer: 1024}
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			l = InputLimits{Idea: size, Answer: size}
		}
	}
	return l
}

func (l InputLimits) limit(kind InputKind) int {
	if kind == InputIdea {
		return l.Idea
	}
	return l.Answer
}

// Clean trims text, rejects it when oversized or not UTF-8, and strips
// control characters other than newline and tab. Oversized input is
// rejected rather than cut so a truncated answer never reaches the backend.
func (l InputLimits) Clean(kind InputKind, text string) (string, error) {
	text = strings.TrimSpace(text)
	if limit := l.limit(kind); limit > 0 && len(text) > limit {
		return "", &InputError{Kind: kind, Size: len(text), Limit: limit, Err: ErrInputTooLarge}
	}
	if !utf8.ValidString(text) {
		return "", &InputError{Kind: kind, Size: len(text), Err: ErrInvalidUTF8}
	}
	text = strings.Map(func(r rune) rune {
		if r == '\r' || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text), nil
}
