package git

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/proc"
)

// Typed errors enabling structured classification without string parsing
// upstream.

// AuthError means the remote rejected or could not use the access material.
type AuthError struct {
	Op  string
	URL string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s auth error for %s: %v", e.Op, e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RefNotFoundError means the remote has no ref with the requested name.
type RefNotFoundError struct {
	Op  string
	Ref string
	Err error
}

func (e *RefNotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: ref %s not found", e.Op, e.Ref)
	}
	return fmt.Sprintf("%s: ref %s not found: %v", e.Op, e.Ref, e.Err)
}
func (e *RefNotFoundError) Unwrap() error { return e.Err }

// TimeoutError means the git child process was killed by its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out after %s", e.Op, e.After) }

// CommandError is any other git failure.
type CommandError struct {
	Op  string
	URL string
	Err error
}

func (e *CommandError) Error() string { return fmt.Sprintf("%s failed for %s: %v", e.Op, e.URL, e.Err) }
func (e *CommandError) Unwrap() error { return e.Err }

// classify wraps a child-process failure into a typed variant using the tail
// of the captured output.
func classify(op, url, ref string, err error, tail string) error {
	if err == nil {
		return nil
	}
	var timeoutErr *proc.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &TimeoutError{Op: op, After: timeoutErr.After}
	}
	low := strings.ToLower(tail)
	switch {
	case strings.Contains(low, "couldn't find remote ref"),
		strings.Contains(low, "not found in upstream"):
		return &RefNotFoundError{Op: op, Ref: ref, Err: err}
	case strings.Contains(low, "authentication failed"),
		strings.Contains(low, "could not read username"),
		strings.Contains(low, "could not read password"),
		strings.Contains(low, "invalid username or password"),
		strings.Contains(low, "permission denied"):
		return &AuthError{Op: op, URL: url, Err: err}
	}
	return &CommandError{Op: op, URL: url, Err: err}
}
