package webhook

import (
	"fmt"

	"github.com/loykin/hookd/internal/connector"
)

// DefaultQueueCapacity bounds the number of listeners waiting on one path.
const DefaultQueueCapacity = 10

const (
	TagQueueing   = "Queueing"
	TagActivation = "Activation"
	TagConflict   = "Conflict"
)

func inUseReason(path string, owner Identity) string {
	return fmt.Sprintf("Context: %s already in use by: process %s(%s)", path, owner.DefinitionID, owner.ElementID)
}

func queuedMessage(path string) string {
	return fmt.Sprintf("Webhook path %q is already in use. Executable registered in standby and will be activated when the path becomes available.", path)
}

func claimedMessage(path string) string {
	return fmt.Sprintf("Path %q claimed. executable has been activated.", path)
}

func activatedMessage(path string) string {
	return fmt.Sprintf("Path %q is now available. executable has been activated.", path)
}

// waitingQueue is the FIFO of listeners standing by for one path.
// It is only touched while the owning path lock is held.
type waitingQueue struct {
	path     string
	capacity int
	pending  []*Listener
}

func newWaitingQueue(path string, capacity int) waitingQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return waitingQueue{path: path, capacity: capacity}
}

// markAsDownAndAdd enqueues l behind owner. A full queue leaves l untouched.
func (q *waitingQueue) markAsDownAndAdd(l *Listener, owner Identity) error {
	if len(q.pending) >= q.capacity {
		return errCapacityExceeded(q.path, q.capacity)
	}
	l.Context.ReportHealth(connector.Down(inUseReason(q.path, owner)))
	l.Context.Log(connector.NewActivity(connector.SeverityInfo, TagQueueing, queuedMessage(q.path)))
	q.pending = append(q.pending, l)
	return nil
}

// activateNext pops the head, marks it UP and returns it, or nil when empty.
func (q *waitingQueue) activateNext() *Listener {
	if len(q.pending) == 0 {
		return nil
	}
	next := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	next.Context.ReportHealth(connector.Up())
	next.Context.Log(connector.NewActivity(connector.SeverityInfo, TagActivation, activatedMessage(q.path)))
	return next
}

// remove drops l keeping the order of the others.
func (q *waitingQueue) remove(l *Listener) bool {
	for i, p := range q.pending {
		if p != l {
			continue
		}
		copy(q.pending[i:], q.pending[i+1:])
		q.pending[len(q.pending)-1] = nil
		q.pending = q.pending[:len(q.pending)-1]
		if len(q.pending) == 0 {
			q.pending = nil
		}
		return true
	}
	return false
}

// refresh points every waiting listener's DOWN reason at the new owner.
func (q *waitingQueue) refresh(owner Identity) {
	reason := inUseReason(q.path, owner)
	for _, p := range q.pending {
		p.Context.ReportHealth(connector.Down(reason))
	}
}

func (q *waitingQueue) contains(l *Listener) bool {
	for _, p := range q.pending {
		if p == l {
			return true
		}
	}
	return false
}

func (q *waitingQueue) isEmpty() bool { return len(q.pending) == 0 }

func (q *waitingQueue) snapshot() []*Listener {
	if len(q.pending) == 0 {
		return nil
	}
	out := make([]*Listener, len(q.pending))
	copy(out, q.pending)
	return out
}
