// Package connector holds per-listener state: health and a bounded activity log.
package connector

import (
	"sync"
	"time"
)

// DefaultLogCapacity is used when a non-positive capacity is requested.
const DefaultLogCapacity = 10

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARNING"
	SeverityError Severity = "ERROR"
)

// Activity is one entry of a listener's activity log.
type Activity struct {
	Severity  Severity  `json:"severity"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewActivity(sev Severity, tag, message string) Activity {
	return Activity{Severity: sev, Tag: tag, Message: message, Timestamp: time.Now().UTC()}
}

// Metadata describes who owns the context.
type Metadata struct {
	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
	ElementID    string `json:"element_id"`
	ContextPath  string `json:"context_path"`
	Type         string `json:"type,omitempty"`
}

// Context is safe for concurrent use. Readers get copies.
type Context struct {
	meta Metadata

	mu     sync.RWMutex
	health Health
	buf    []Activity
	head   int // index of the oldest entry
	n      int
}

// New returns a context with health DOWN until the registry activates it.
func New(meta Metadata, logCapacity int) *Context {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Context{
		meta:   meta,
		health: Down("not registered"),
		buf:    make([]Activity, logCapacity),
	}
}

func (c *Context) Metadata() Metadata { return c.meta }

func (c *Context) ReportHealth(h Health) {
	c.mu.Lock()
	c.health = h
	c.mu.Unlock()
}

func (c *Context) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Log appends a to the ring buffer, evicting the oldest entry when full.
func (c *Context) Log(a Activity) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.buf)
	if c.n < size {
		c.buf[(c.head+c.n)%size] = a
		c.n++
		return
	}
	c.buf[c.head] = a
	c.head = (c.head + 1) % size
}

// Activities returns the log oldest first.
func (c *Context) Activities() []Activity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Activity, c.n)
	for i := 0; i < c.n; i++ {
		out[i] = c.buf[(c.head+i)%len(c.buf)]
	}
	return out
}

func (c *Context) LogCapacity() int { return len(c.buf) }
