package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType classifies engine failures for callers deciding what to do next.
type ErrorType int

const (
	// ErrorTypeConfiguration - load-time registry or config defect; refuse to start
	ErrorTypeConfiguration ErrorType = iota
	// ErrorTypeNotFound - a resolved directive id is missing from the repository
	ErrorTypeNotFound
	// ErrorTypeTransient - the repository failed; a later attempt may succeed
	ErrorTypeTransient
	// ErrorTypeUnknown - anything the engine did not produce itself
	ErrorTypeUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfiguration:
		return "configuration"
	case ErrorTypeNotFound:
		return "directive_not_found"
	case ErrorTypeTransient:
		return "repository_unavailable"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned by repositories when an id has no directive body.
	ErrNotFound = errors.New("directive not found")
	// ErrUnknownContext marks a lookup for a context outside the registry's closed set.
	ErrUnknownContext = errors.New("unknown context")
)

// Issue is a single configuration finding.
type Issue struct {
	ID      string
	Message string
	Hint    string
}

func (i Issue) String() string {
	if i.Hint == "" {
		return fmt.Sprintf("%s: %s", i.ID, i.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", i.ID, i.Message, i.Hint)
}

// ConfigurationError reports malformed or self-inconsistent registry data.
type ConfigurationError struct {
	Source string // file or component the configuration came from
	Issues []Issue
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Source != "" {
		b.WriteString(" in ")
		b.WriteString(e.Source)
	}
	switch {
	case len(e.Issues) == 1:
		b.WriteString(": ")
		b.WriteString(e.Issues[0].String())
	case len(e.Issues) > 1:
		fmt.Fprintf(&b, ": %d issues", len(e.Issues))
		for _, issue := range e.Issues {
			b.WriteString("\n  - ")
			b.WriteString(issue.String())
		}
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError from issues, or returns nil when there are none.
func NewConfigurationError(source string, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ConfigurationError{Source: source, Issues: append([]Issue(nil), issues...)}
}

// DirectiveNotFoundError means a registry-resolved id has no body in the repository.
type DirectiveNotFoundError struct {
	ID  string
	Err error
}

func (e *DirectiveNotFoundError) Error() string {
	return fmt.Sprintf("directive %q not found", e.ID)
}

func (e *DirectiveNotFoundError) Unwrap() error {
	if e.Err == nil {
		return ErrNotFound
	}
	return e.Err
}

// RepositoryUnavailableError wraps a repository failure other than not-found.
type RepositoryUnavailableError struct {
	ID  string
	Err error
}

func (e *RepositoryUnavailableError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("directive repository unavailable: %v", e.Err)
	}
	return fmt.Sprintf("directive repository unavailable loading %q: %v", e.ID, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error {
	return e.Err
}

// FromRepository converts a raw repository error for id into the engine taxonomy.
// Errors already in the taxonomy pass through untouched.
func FromRepository(id string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *DirectiveNotFoundError
	if errors.As(err, &notFound) {
		return err
	}
	var unavailable *RepositoryUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return &DirectiveNotFoundError{ID: id, Err: err}
	}
	return &RepositoryUnavailableError{ID: id, Err: err}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsDirectiveNotFound reports whether err identifies a missing directive.
func IsDirectiveNotFound(err error) bool {
	var notFound *DirectiveNotFoundError
	return errors.As(err, &notFound)
}

// IsRepositoryUnavailable reports whether err is a repository failure.
func IsRepositoryUnavailable(err error) bool {
	var unavailable *RepositoryUnavailableError
	return errors.As(err, &unavailable)
}

// IsTransient reports whether retrying the same request could succeed.
// The engine itself never retries; this is for callers that do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsConfiguration(err) || IsDirectiveNotFound(err) {
		return false
	}
	if IsRepositoryUnavailable(err) {
		return true
	}
	return isNetworkError(err) || isSyscallError(err)
}

// DirectiveID extracts the offending directive id from a per-request error.
func DirectiveID(err error) (string, bool) {
	var notFound *DirectiveNotFoundError
	if errors.As(err, &notFound) {
		return notFound.ID, true
	}
	var unavailable *RepositoryUnavailableError
	if errors.As(err, &unavailable) && unavailable.ID != "" {
		return unavailable.ID, true
	}
	return "", false
}

// GetErrorType classifies an error
func GetErrorType(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case IsConfiguration(err):
		return ErrorTypeConfiguration
	case IsDirectiveNotFound(err):
		return ErrorTypeNotFound
	case IsTransient(err):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "database is locked"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.EAGAIN, syscall.EBUSY:
			return true
		}
	}
	return false
}
