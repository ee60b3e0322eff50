// Package webhook arbitrates ownership of inbound webhook context paths.
//
// Many deployed definitions may claim the same context path. Exactly one
// listener is active per path; the others wait in a bounded FIFO queue and
// report themselves DOWN until the active one is withdrawn.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/loykin/hookd/internal/connector"
)

// Identity names the deployed element that claims a context path.
type Identity struct {
	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
	ElementID    string `json:"element_id"`
	ContextPath  string `json:"context_path"`
}

// Same reports whether i and other name the same deployed element. The
// context path is not compared.
func (i Identity) Same(other Identity) bool {
	return i.DefinitionID == other.DefinitionID && i.Version == other.Version && i.ElementID == other.ElementID
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%d/%s@%s", i.DefinitionID, i.Version, i.ElementID, i.ContextPath)
}

// Executable is the handler a listener carries. The registry never inspects it.
type Executable interface {
	Type() string
}

// Request is the transport-neutral view of an inbound call handed to executables.
type Request struct {
	ID     string
	Method string
	Path   string
	URL    string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Response is what a Trigger wants written back to the caller.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// Verifier is implemented by executables that authenticate or validate
// requests before they are triggered.
type Verifier interface {
	Verify(ctx context.Context, req *Request) error
}

// Trigger is implemented by executables that act on a request.
type Trigger interface {
	Trigger(ctx context.Context, req *Request) (*Response, error)
}

// Listener is one registration. Its fields are never reassigned after
// NewListener; only Context changes.
type Listener struct {
	Identity   Identity
	Executable Executable
	Context    *connector.Context
}

// NewListener normalises the context path and creates a fresh context.
func NewListener(id Identity, exec Executable, logCapacity int) *Listener {
	id.ContextPath = NormalizePath(id.ContextPath)
	meta := connector.Metadata{
		DefinitionID: id.DefinitionID,
		Version:      id.Version,
		ElementID:    id.ElementID,
		ContextPath:  id.ContextPath,
	}
	if exec != nil {
		meta.Type = exec.Type()
	}
	return &Listener{Identity: id, Executable: exec, Context: connector.New(meta, logCapacity)}
}

// Type returns the executable type or "" when none is attached.
func (l *Listener) Type() string {
	if l.Executable == nil {
		return ""
	}
	return l.Executable.Type()
}

// NormalizePath returns p with exactly one leading slash and no trailing slash.
// The empty path stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean("/" + strings.Trim(p, "/"))
	if p == "/" {
		return ""
	}
	return p
}

// Outcome is the result of a registration attempt.
type Outcome int

const (
	OutcomeActivated Outcome = iota + 1
	OutcomeQueued
	OutcomeConflict
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActivated:
		return "activated"
	case OutcomeQueued:
		return "queued"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
