// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind tags an Error with one of the pipeline failure categories.
// The HTTP edge maps kinds to status codes through a single table.
type Kind string

const (
	// InvalidURL rejects a repository URL that is not https://<host>/<owner>/<repo>
	InvalidURL Kind = "invalid_github_url"
	// Inaccessible marks repositories that cannot be read anonymously (404, plain 403, private)
	Inaccessible Kind = "repository_inaccessible"
	// RateLimited marks upstream rate-limit rejections
	RateLimited Kind = "rate_limited"
	// Timeout marks attempt or stage deadline expiry
	Timeout Kind = "timeout"
	// Shape marks responses whose structure cannot be interpreted, including binary payloads
	Shape Kind = "response_shape_error"
	// Upstream marks any other upstream failure, retryable or not
	Upstream Kind = "upstream_error"
	// Parse marks digest markdown that has no known top-level section
	Parse Kind = "digest_parse_error"
	// Config marks invalid or missing configuration
	Config Kind = "config_error"
	// Budget marks processed markdown that cannot fit the prompt budget
	Budget Kind = "budget_error"
	// OutputValidation marks model output that violates the summary contract
	OutputValidation Kind = "output_validation_error"
	// Internal is the fallback kind for unexpected failures
	Internal Kind = "internal_error"
)

// Error is the tagged error value carried through the pipeline instead of an
// exception hierarchy. Partial is populated by budget errors that still hold a
// usable processed result.
type Error struct {
	Kind           Kind
	Message        string
	UpstreamStatus int
	Context        string
	Retryable      bool
	Partial        interface{}
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.UpstreamStatus != 0 {
		s += fmt.Sprintf(" (status=%d)", e.UpstreamStatus)
	}
	if e.Context != "" {
		s += fmt.Sprintf(" [%s]", e.Context)
	}
	return s
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStatus records the upstream HTTP status on the error.
func (e *Error) WithStatus(status int) *Error {
	e.UpstreamStatus = status
	return e
}

// WithContext records a short operation context, e.g. "get_tree:owner/repo".
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// AsRetryable marks the error as safe to retry.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// MessageOf extracts the bare message from err, without the kind and
// context decoration, or err.Error() when err carries no Error.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// KindOf extracts the Kind from err, or Internal when err carries no Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// StatusOf extracts the upstream HTTP status from err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.UpstreamStatus
	}
	return 0
}

// ContextOf extracts the context payload from err, or "".
func ContextOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Context
	}
	return ""
}

// IsRetryable reports whether err is tagged retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// PartialOf extracts the attached partial result from err, or nil.
func PartialOf(err error) interface{} {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Partial
	}
	return nil
}
