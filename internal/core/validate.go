package core

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// E.164: leading +, country code 1-9, at most 15 digits total.
var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func ValidPhone(s string) bool { return e164Re.MatchString(s) }

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// ValidateSubmission checks the parts of a submission that need no store
// access. A failing number or body never reaches the gates.
func ValidateSubmission(from, to, body string) error {
	if !ValidPhone(from) {
		return fmt.Errorf("from %q: %w", from, ErrInvalidPhone)
	}
	if !ValidPhone(to) {
		return fmt.Errorf("to %q: %w", to, ErrInvalidPhone)
	}
	if body == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return ErrBodyTooLong
	}
	return nil
}

// ValidateContentType gates the attachment MIME type. The duplicate-filename
// half of attachment validation lives with the store, where it can share the
// insert's transaction.
func ValidateContentType(contentType string) error {
	if !allowedContentTypes[contentType] {
		return fmt.Errorf("%q: %w", contentType, ErrUnsupportedMediaType)
	}
	return nil
}
