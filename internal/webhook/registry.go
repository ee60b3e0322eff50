package webhook

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/hookd/internal/metrics"
)

type EventType string

const (
	EventActivated    EventType = "activated"
	EventQueued       EventType = "queued"
	EventConflict     EventType = "conflict"
	EventRejected     EventType = "rejected"
	EventPromoted     EventType = "promoted"
	EventDeregistered EventType = "deregistered"
)

// Event describes one ownership transition. Owner is the active listener of
// the path after the transition, when there is one.
type Event struct {
	Type       EventType
	Listener   *Listener
	Owner      *Listener
	Err        error
	OccurredAt time.Time
}

// Observer receives registry events after the path lock has been released.
// Implementations must not block for long; they run on the caller's goroutine.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type Options struct {
	QueueCapacity int
	Logger        *slog.Logger
}

// Registry maps context paths to their ownership. Each path has its own lock;
// the map lock only guards lookup, creation and removal of paths.
type Registry struct {
	queueCapacity int
	logger        *slog.Logger

	mu    sync.RWMutex
	paths map[string]*pathOwnership

	queued atomic.Int64

	obsMu     sync.RWMutex
	observers []Observer
}

func NewRegistry(opts Options) *Registry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		queueCapacity: opts.QueueCapacity,
		logger:        opts.Logger,
		paths:         make(map[string]*pathOwnership),
	}
}

// QueueCapacity returns the per-path waiting queue bound.
func (r *Registry) QueueCapacity() int { return r.queueCapacity }

// AddObserver subscribes o to every subsequent event.
func (r *Registry) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

func (r *Registry) emit(e Event) {
	e.OccurredAt = time.Now().UTC()
	r.obsMu.RLock()
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.obsMu.RUnlock()
	for _, o := range obs {
		o.OnEvent(e)
	}
}

// ownershipFor returns the live ownership for path, creating it if needed.
func (r *Registry) ownershipFor(path string) *pathOwnership {
	r.mu.RLock()
	p := r.paths[path]
	r.mu.RUnlock()
	if p != nil && !p.retired.Load() {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p = r.paths[path]
	if p == nil || p.retired.Load() {
		p = newPathOwnership(path, r.queueCapacity)
		r.paths[path] = p
		metrics.SetActivePaths(len(r.paths))
	}
	return p
}

func (r *Registry) lookup(path string) *pathOwnership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paths[path]
}

func (r *Registry) unlink(p *pathOwnership) {
	r.mu.Lock()
	if r.paths[p.path] == p {
		delete(r.paths, p.path)
	}
	metrics.SetActivePaths(len(r.paths))
	r.mu.Unlock()
}

func validate(l *Listener) error {
	switch {
	case l == nil:
		return errInvalidListener("nil listener")
	case l.Context == nil:
		return errInvalidListener("listener has no context")
	case l.Identity.ContextPath == "":
		return errInvalidListener("empty context path")
	case NormalizePath(l.Identity.ContextPath) != l.Identity.ContextPath:
		return errInvalidListener(fmt.Sprintf("context path %q is not normalized, expected %q",
			l.Identity.ContextPath, NormalizePath(l.Identity.ContextPath)))
	}
	return nil
}

// Register claims the listener's context path. The first claimant of a path
// is activated. A listener naming the same element as the active one is
// refused with a conflict, as is a listener already holding or waiting on
// the path. Any other claimant is queued behind the active one, or rejected
// when the queue is full.
func (r *Registry) Register(l *Listener) (Outcome, error) {
	if err := validate(l); err != nil {
		return OutcomeRejected, err
	}
	path := l.Identity.ContextPath

	var (
		outcome Outcome
		err     error
		owner   *Listener
	)
	for {
		p := r.ownershipFor(path)
		p.mu.Lock()
		if p.retired.Load() {
			p.mu.Unlock()
			continue
		}
		outcome, err = p.tryRegister(l)
		owner = p.active
		p.mu.Unlock()
		break
	}

	metrics.IncRegistration(outcome.String())
	log := r.logger.With("path", path, "definition", l.Identity.DefinitionID,
		"version", l.Identity.Version, "element", l.Identity.ElementID)
	switch outcome {
	case OutcomeActivated:
		log.Info("webhook activated")
		r.emit(Event{Type: EventActivated, Listener: l, Owner: owner})
	case OutcomeQueued:
		metrics.SetQueued(int(r.queued.Add(1)))
		log.Info("webhook queued", "owner", owner.Identity.DefinitionID)
		r.emit(Event{Type: EventQueued, Listener: l, Owner: owner})
	case OutcomeConflict:
		log.Warn("webhook conflict", "error", err)
		r.emit(Event{Type: EventConflict, Listener: l, Owner: owner, Err: err})
	case OutcomeRejected:
		log.Warn("webhook rejected", "error", err)
		r.emit(Event{Type: EventRejected, Listener: l, Owner: owner, Err: err})
	}
	return outcome, err
}

// Deregister withdraws l. Withdrawing the active listener promotes the head
// of the queue; withdrawing a queued one just removes it. Paths left without
// listeners are dropped.
func (r *Registry) Deregister(l *Listener) error {
	if err := validate(l); err != nil {
		return err
	}
	path := l.Identity.ContextPath
	p := r.lookup(path)
	if p == nil {
		return errUnknownPath(path)
	}

	p.mu.Lock()
	if p.retired.Load() {
		p.mu.Unlock()
		return errUnknownPath(path)
	}
	wasActive := p.active == l
	promoted, err := p.deregister(l)
	empty := err == nil && p.isEmpty()
	if empty {
		p.retired.Store(true)
	}
	p.mu.Unlock()

	if err != nil {
		r.logger.Warn("webhook deregistration failed", "path", path, "listener", l.Identity.String(), "error", err)
		return err
	}
	if empty {
		r.unlink(p)
	}
	if !wasActive || promoted != nil {
		metrics.SetQueued(int(r.queued.Add(-1)))
	}

	metrics.IncDeregistration()
	r.logger.Info("webhook deregistered", "path", path, "listener", l.Identity.String(), "active", wasActive)
	r.emit(Event{Type: EventDeregistered, Listener: l, Owner: promoted})
	if promoted != nil {
		metrics.IncPromotion()
		r.logger.Info("webhook promoted", "path", path, "listener", promoted.Identity.String())
		r.emit(Event{Type: EventPromoted, Listener: promoted, Owner: promoted})
	}
	return nil
}

// GetActiveWebhook returns the listener currently serving path, or nil.
func (r *Registry) GetActiveWebhook(path string) *Listener {
	p := r.lookup(NormalizePath(path))
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// PathState is a consistent view of one path.
type PathState struct {
	Path   string
	Active *Listener
	Queued []*Listener
}

// Snapshot returns the state of path, or false when the path is unknown.
func (r *Registry) Snapshot(path string) (PathState, bool) {
	path = NormalizePath(path)
	p := r.lookup(path)
	if p == nil {
		return PathState{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.isEmpty() {
		return PathState{}, false
	}
	return PathState{Path: path, Active: p.active, Queued: p.queue.snapshot()}, true
}

func (r *Registry) ownerships() []*pathOwnership {
	r.mu.RLock()
	out := make([]*pathOwnership, 0, len(r.paths))
	for _, p := range r.paths {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Paths returns the known context paths in lexical order.
func (r *Registry) Paths() []string {
	var out []string
	for _, p := range r.ownerships() {
		p.mu.RLock()
		if !p.isEmpty() {
			out = append(out, p.path)
		}
		p.mu.RUnlock()
	}
	return out
}

// States returns a snapshot of every path in lexical order.
func (r *Registry) States() []PathState {
	var out []PathState
	for _, p := range r.ownerships() {
		p.mu.RLock()
		if !p.isEmpty() {
			out = append(out, PathState{Path: p.path, Active: p.active, Queued: p.queue.snapshot()})
		}
		p.mu.RUnlock()
	}
	return out
}

// ListAll flattens active and queued listeners of every path. Per path the
// active listener comes first, followed by the queue in FIFO order.
func (r *Registry) ListAll() []*Listener {
	var out []*Listener
	for _, st := range r.States() {
		if st.Active != nil {
			out = append(out, st.Active)
		}
		out = append(out, st.Queued...)
	}
	return out
}

// Reset drops every path. Listeners are left in whatever health they had.
func (r *Registry) Reset() {
	r.mu.Lock()
	old := r.paths
	r.paths = make(map[string]*pathOwnership)
	metrics.SetActivePaths(0)
	r.mu.Unlock()

	for _, p := range old {
		p.mu.Lock()
		p.retired.Store(true)
		p.active = nil
		p.queue.pending = nil
		p.mu.Unlock()
	}
	r.queued.Store(0)
	metrics.SetQueued(0)
	r.logger.Info("webhook registry reset", "paths", len(old))
}
