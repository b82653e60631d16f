// Package validator checks message intake requests and reports per-field
// errors.
package validator

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion"
)

const (
	maxSubjectLength = 255
	maxBodyLength    = 65535
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateMessage checks ids and the subject and body limits.
func ValidateMessage(req *ingestion.MessageRequest) error {
	errs := make(map[string]string)

	if req.ID == 0 {
		errs["id_msg"] = "message id is required"
	}
	if req.TopicID == 0 {
		errs["id_topic"] = "topic id is required"
	}
	if req.BoardID == 0 {
		errs["id_board"] = "board id is required"
	}
	if req.PostedAt < 0 {
		errs["poster_time"] = "poster time must not be negative"
	}
	if req.Likes < 0 {
		errs["likes"] = "likes must not be negative"
	}

	subject := strings.TrimSpace(req.Subject)
	switch {
	case subject == "":
		errs["subject"] = "subject is required"
	case utf8.RuneCountInString(subject) > maxSubjectLength:
		errs["subject"] = fmt.Sprintf("subject must be at most %d characters", maxSubjectLength)
	}
	switch {
	case strings.TrimSpace(req.Body) == "":
		errs["body"] = "body is required"
	case len(req.Body) > maxBodyLength:
		errs["body"] = fmt.Sprintf("body must be at most %d bytes", maxBodyLength)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
