package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrServerUnavailable means the owning server could not be started
	// or has been marked dead.
	ErrServerUnavailable = errors.New("tool server unavailable")

	// ErrToolTimeout means a tool call exceeded the server's deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolNotFound means no registered server advertises the tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNotAllowed means the tool exists but the active allow-list
	// or deny-list refuses it.
	ErrToolNotAllowed = errors.New("tool not allowed")
)

// ResponseTooLargeError reports a tool result above the hard response
// threshold when auto-truncation is disabled.
type ResponseTooLargeError struct {
	Tool   string
	Tokens int
	Limit  int
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("tool %s returned %d tokens, limit is %d", e.Tool, e.Tokens, e.Limit)
}
