package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxInputSize bounds questions and review notes, in bytes.
const MaxInputSize = 4096

// ErrInvalidInput is returned for oversized or malformed questions and notes.
var ErrInvalidInput = errors.New("invalid input")

// SanitizeInput enforces MaxInputSize, rejects invalid UTF-8 and strips
// control characters other than newline, tab and carriage return, so user
// text cannot poison logs or terminals. Oversized input is rejected, never
// truncated.
func SanitizeInput(input string) (string, error) {
	if len(input) > MaxInputSize {
		return "", fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrInvalidInput, len(input), MaxInputSize)
	}
	if !utf8.ValidString(input) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidInput)
	}

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
