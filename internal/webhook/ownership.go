package webhook

import (
	"sync"
	"sync/atomic"

	"github.com/loykin/hookd/internal/connector"
)

// pathOwnership holds the active listener of one path and its waiting queue.
// Invariant: active == nil implies the queue is empty.
type pathOwnership struct {
	path string

	mu     sync.RWMutex
	active *Listener
	queue  waitingQueue

	// retired is set once the ownership has been emptied and unlinked from
	// the registry map; writers that still hold a reference must look again.
	retired atomic.Bool
}

func newPathOwnership(path string, queueCapacity int) *pathOwnership {
	return &pathOwnership{path: path, queue: newWaitingQueue(path, queueCapacity)}
}

// tryRegister must be called with p.mu held. A listener that already holds
// or waits on the path is refused without touching its context.
func (p *pathOwnership) tryRegister(l *Listener) (Outcome, error) {
	if p.active == nil {
		p.active = l
		l.Context.ReportHealth(connector.Up())
		l.Context.Log(connector.NewActivity(connector.SeverityInfo, TagActivation, claimedMessage(p.path)))
		return OutcomeActivated, nil
	}
	owner := p.active.Identity
	if l == p.active || p.queue.contains(l) {
		return OutcomeConflict, errAlreadyRegistered(p.path, l.Identity)
	}
	if owner.Same(l.Identity) {
		reason := inUseReason(p.path, owner)
		l.Context.ReportHealth(connector.Down(reason))
		l.Context.Log(connector.NewActivity(connector.SeverityError, TagConflict, reason))
		return OutcomeConflict, errConflict(p.path, owner)
	}
	if err := p.queue.markAsDownAndAdd(l, owner); err != nil {
		return OutcomeRejected, err
	}
	return OutcomeQueued, nil
}

// deregister must be called with p.mu held. It returns the promoted listener,
// if the active one was withdrawn and someone was waiting.
func (p *pathOwnership) deregister(l *Listener) (*Listener, error) {
	if l == nil {
		return nil, errInvalidListener("nil listener")
	}
	if p.active != nil && p.active == l {
		p.active = p.queue.activateNext()
		if p.active != nil {
			p.queue.refresh(p.active.Identity)
		}
		return p.active, nil
	}
	if p.queue.remove(l) {
		return nil, nil
	}
	return nil, errUnknownListener(l.Identity)
}

func (p *pathOwnership) isEmpty() bool {
	return p.active == nil && p.queue.isEmpty()
}
