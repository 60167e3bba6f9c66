package mcpmgr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies manager failures.
type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindConnection          ErrorKind = "connection"
	KindCapabilityDiscovery ErrorKind = "capability_discovery"
	KindValidation          ErrorKind = "validation"
	KindRouting             ErrorKind = "routing"
	KindInvoke              ErrorKind = "invoke"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrCapabilityDiscovery = &Error{Kind: KindCapabilityDiscovery}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrRouting             = &Error{Kind: KindRouting}
	ErrInvoke              = &Error{Kind: KindInvoke}
)

// Causes carried inside an *Error.
var (
	ErrServerDisabled  = errors.New("server is disabled")
	ErrDuplicateServer = errors.New("server already exists")
	ErrUnknownServer   = errors.New("unknown server")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrToolDisabled    = errors.New("tool is disabled")
	ErrNotConnected    = errors.New("server not connected")
	ErrNoRegistry      = errors.New("no registry configured")
)

// Error is returned by every Manager and ServerConnection operation.
type Error struct {
	Kind     ErrorKind
	Server   string
	Tool     string
	Message  string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("mcpmgr: ")
	b.WriteString(string(e.Kind))
	if e.Server != "" {
		fmt.Fprintf(&b, ": server %q", e.Server)
	}
	if e.Tool != "" {
		fmt.Fprintf(&b, ": tool %q", e.Tool)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrRouting)
// works regardless of the other fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func configError(server, msg string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Server: server, Message: msg, Cause: cause}
}

func routingError(tool, msg string, cause error) *Error {
	return &Error{Kind: KindRouting, Tool: tool, Message: msg, Cause: cause}
}
