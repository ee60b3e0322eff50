package webhook

import (
	"fmt"

	"github.com/loykin/hookd/internal/connector"
)

// Query filters listeners. Empty fields match anything.
type Query struct {
	Type         string
	DefinitionID string
	ElementID    string
	Path         string
}

func (q Query) matches(l *Listener) bool {
	if q.Type != "" && l.Type() != q.Type {
		return false
	}
	if q.DefinitionID != "" && l.Identity.DefinitionID != q.DefinitionID {
		return false
	}
	if q.ElementID != "" && l.Identity.ElementID != q.ElementID {
		return false
	}
	if q.Path != "" && l.Identity.ContextPath != NormalizePath(q.Path) {
		return false
	}
	return true
}

// Query returns the listeners of ListAll matching q, in the same order.
func (r *Registry) Query(q Query) []*Listener {
	var out []*Listener
	for _, l := range r.ListAll() {
		if q.matches(l) {
			out = append(out, l)
		}
	}
	return out
}

// AggregateHealth is UP when every registered listener is UP.
func (r *Registry) AggregateHealth() connector.Health {
	all := r.ListAll()
	down := 0
	for _, l := range all {
		if !l.Context.Health().IsUp() {
			down++
		}
	}
	if down == 0 {
		return connector.Up()
	}
	return connector.Down(fmt.Sprintf("%d of %d webhooks are down", down, len(all)))
}
