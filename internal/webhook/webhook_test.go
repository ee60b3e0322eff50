package webhook

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hookd/internal/connector"
)

type stubExec struct{ kind string }

func (s stubExec) Type() string { return s.kind }

func newListener(def string, version int, element, path string) *Listener {
	return NewListener(Identity{DefinitionID: def, Version: version, ElementID: element, ContextPath: path}, stubExec{kind: "webhook"}, 10)
}

func TestRegisterFirstClaimantActivated(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("P", 1, "start", "/x")

	out, err := r.Register(a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
	assert.True(t, a.Context.Health().IsUp())
	assert.Same(t, a, r.GetActiveWebhook("/x"))

	acts := a.Context.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, TagActivation, acts[0].Tag)
	assert.Equal(t, `Path "/x" claimed. executable has been activated.`, acts[0].Message)
}

func TestQueuedListenerPromotedOnDeregister(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("P", 1, "start", "/x")
	b := newListener("Q", 1, "start", "/x")

	_, err := r.Register(a)
	require.NoError(t, err)
	out, err := r.Register(b)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)

	h := b.Context.Health()
	assert.Equal(t, connector.StatusDown, h.Status)
	assert.Equal(t, "Context: /x already in use by: process P(start)", h.Reason)
	acts := b.Context.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, TagQueueing, acts[0].Tag)
	assert.Contains(t, acts[0].Message, "registered in standby")

	require.NoError(t, r.Deregister(a))
	assert.True(t, b.Context.Health().IsUp())
	assert.Same(t, b, r.GetActiveWebhook("/x"))
	acts = b.Context.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, TagActivation, acts[1].Tag)
	assert.Equal(t, `Path "/x" is now available. executable has been activated.`, acts[1].Message)
}

func TestDuplicateIdentityConflicts(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("P", 1, "start", "/x")
	dup := newListener("P", 1, "start", "/x")

	_, err := r.Register(a)
	require.NoError(t, err)

	out, err := r.Register(dup)
	assert.Equal(t, OutcomeConflict, out)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, dup.Context.Health().IsUp())
	assert.Contains(t, dup.Context.Health().Reason, "already in use")

	assert.Same(t, a, r.GetActiveWebhook("/x"))
	assert.True(t, a.Context.Health().IsUp())
	st, ok := r.Snapshot("/x")
	require.True(t, ok)
	assert.Empty(t, st.Queued)
}

func TestReregisterActiveInstanceLeavesItUntouched(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("P", 1, "e", "/x")
	_, err := r.Register(a)
	require.NoError(t, err)

	out, err := r.Register(a)
	assert.Equal(t, OutcomeConflict, out)
	assert.True(t, IsConflict(err))

	assert.Same(t, a, r.GetActiveWebhook("/x"))
	assert.True(t, a.Context.Health().IsUp())
	assert.Len(t, a.Context.Activities(), 1)
	assert.Len(t, r.ListAll(), 1)
}

func TestReregisterQueuedInstanceIsNotQueuedTwice(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("P", 1, "e", "/x")
	b := newListener("Q", 1, "e", "/x")
	_, err := r.Register(a)
	require.NoError(t, err)
	out, err := r.Register(b)
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, out)
	before := b.Context.Activities()

	out, err = r.Register(b)
	assert.Equal(t, OutcomeConflict, out)
	assert.True(t, IsConflict(err))
	assert.Equal(t, before, b.Context.Activities())
	assert.Equal(t, "Context: /x already in use by: process P(e)", b.Context.Health().Reason)

	st, ok := r.Snapshot("/x")
	require.True(t, ok)
	require.Len(t, st.Queued, 1)
	assert.Len(t, r.ListAll(), 2)

	require.NoError(t, r.Deregister(a))
	assert.Same(t, b, r.GetActiveWebhook("/x"))
	st, ok = r.Snapshot("/x")
	require.True(t, ok)
	assert.Empty(t, st.Queued)

	require.NoError(t, r.Deregister(b))
	assert.Empty(t, r.Paths())
}

func TestRegisterRejectsUnnormalizedPath(t *testing.T) {
	r := NewRegistry(Options{})
	for _, p := range []string{"x/", "x", "/x/", "//x", "/a/../x"} {
		l := newListener("P", 1, "e", "/x")
		l.Identity.ContextPath = p
		out, err := r.Register(l)
		assert.Equal(t, OutcomeRejected, out, p)
		assert.Error(t, err, p)
	}
	assert.Empty(t, r.Paths())
	assert.Empty(t, r.ListAll())
}

func TestIdentitySame(t *testing.T) {
	a := Identity{DefinitionID: "P", Version: 1, ElementID: "e", ContextPath: "/x"}
	b := a
	b.ContextPath = "/y"
	assert.True(t, a.Same(b))
	b.Version = 2
	assert.False(t, a.Same(b))
	c := a
	c.ElementID = "f"
	assert.False(t, a.Same(c))
}

func TestSameDefinitionDifferentElementIsQueued(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Register(newListener("P", 1, "a", "/x"))
	require.NoError(t, err)

	out, err := r.Register(newListener("P", 1, "b", "/x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)

	out, err = r.Register(newListener("P", 2, "a", "/x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)
}

func TestFIFOPromotion(t *testing.T) {
	r := NewRegistry(Options{})
	owner := newListener("P", 1, "e", "/x")
	_, err := r.Register(owner)
	require.NoError(t, err)

	l1 := newListener("L1", 1, "e", "/x")
	l2 := newListener("L2", 1, "e", "/x")
	l3 := newListener("L3", 1, "e", "/x")
	for _, l := range []*Listener{l1, l2, l3} {
		out, err := r.Register(l)
		require.NoError(t, err)
		require.Equal(t, OutcomeQueued, out)
	}

	current := owner
	for _, want := range []*Listener{l1, l2, l3} {
		require.NoError(t, r.Deregister(current))
		got := r.GetActiveWebhook("/x")
		require.Same(t, want, got)
		current = got
	}
}

func TestPromotionRefreshesWaitingReasons(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "/x")
	b := newListener("B", 1, "e", "/x")
	c := newListener("C", 1, "e", "/x")
	for _, l := range []*Listener{a, b, c} {
		_, err := r.Register(l)
		require.NoError(t, err)
	}
	assert.Contains(t, c.Context.Health().Reason, "process A(e)")

	require.NoError(t, r.Deregister(a))
	assert.Contains(t, c.Context.Health().Reason, "process B(e)")
	// Refreshing the reason does not add log noise.
	assert.Len(t, c.Context.Activities(), 1)
}

func TestCapacityExceeded(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Register(newListener("owner", 1, "e", "/y"))
	require.NoError(t, err)
	for i := 0; i < DefaultQueueCapacity; i++ {
		out, err := r.Register(newListener(fmt.Sprintf("q%d", i), 1, "e", "/y"))
		require.NoError(t, err)
		require.Equal(t, OutcomeQueued, out)
	}

	extra := newListener("overflow", 1, "e", "/y")
	out, err := r.Register(extra)
	assert.Equal(t, OutcomeRejected, out)
	require.Error(t, err)
	assert.True(t, IsCapacityExceeded(err))

	st, ok := r.Snapshot("/y")
	require.True(t, ok)
	assert.Len(t, st.Queued, DefaultQueueCapacity)
	// all-or-nothing: the rejected listener was not touched
	assert.Equal(t, "not registered", extra.Context.Health().Reason)
	assert.Empty(t, extra.Context.Activities())
}

func TestCustomQueueCapacity(t *testing.T) {
	r := NewRegistry(Options{QueueCapacity: 1})
	assert.Equal(t, 1, r.QueueCapacity())
	_, _ = r.Register(newListener("a", 1, "e", "/z"))
	_, err := r.Register(newListener("b", 1, "e", "/z"))
	require.NoError(t, err)
	_, err = r.Register(newListener("c", 1, "e", "/z"))
	assert.True(t, IsCapacityExceeded(err))
}

func TestDeregisterQueuedKeepsOrderWithoutPromotion(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "/x")
	b := newListener("B", 1, "e", "/x")
	c := newListener("C", 1, "e", "/x")
	d := newListener("D", 1, "e", "/x")
	for _, l := range []*Listener{a, b, c, d} {
		_, err := r.Register(l)
		require.NoError(t, err)
	}

	require.NoError(t, r.Deregister(c))
	assert.Same(t, a, r.GetActiveWebhook("/x"))
	st, _ := r.Snapshot("/x")
	assert.Equal(t, []*Listener{b, d}, st.Queued)
}

func TestDeregisterUnknown(t *testing.T) {
	r := NewRegistry(Options{})

	err := r.Deregister(newListener("A", 1, "e", "/nowhere"))
	require.Error(t, err)
	assert.True(t, IsUnknownPath(err))

	a := newListener("A", 1, "e", "/x")
	_, err = r.Register(a)
	require.NoError(t, err)

	// identical identity, different instance: never registered
	err = r.Deregister(newListener("A", 1, "e", "/x"))
	require.Error(t, err)
	assert.True(t, IsUnknownListener(err))
	assert.Same(t, a, r.GetActiveWebhook("/x"))

	// deregistering twice fails the second time
	require.NoError(t, r.Deregister(a))
	assert.True(t, IsUnknownPath(r.Deregister(a)))
}

func TestInvalidListener(t *testing.T) {
	r := NewRegistry(Options{})
	out, err := r.Register(nil)
	assert.Equal(t, OutcomeRejected, out)
	assert.Error(t, err)

	_, err = r.Register(newListener("A", 1, "e", "  "))
	assert.Error(t, err)
	assert.Empty(t, r.ListAll())

	assert.Error(t, r.Deregister(&Listener{Identity: Identity{ContextPath: "/x"}}))
}

func TestPathRemovedWhenEmpty(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "/x")
	b := newListener("B", 1, "e", "/x")
	other := newListener("O", 1, "e", "/other")
	for _, l := range []*Listener{a, b, other} {
		_, err := r.Register(l)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/other", "/x"}, r.Paths())

	require.NoError(t, r.Deregister(b))
	require.NoError(t, r.Deregister(a))

	assert.Equal(t, []string{"/other"}, r.Paths())
	assert.Nil(t, r.GetActiveWebhook("/x"))
	_, ok := r.Snapshot("/x")
	assert.False(t, ok)
	for _, l := range r.ListAll() {
		assert.NotEqual(t, "/x", l.Identity.ContextPath)
	}

	// the path can be claimed again afterwards
	out, err := r.Register(newListener("C", 1, "e", "/x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
}

func TestListAllOrder(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "/b")
	b := newListener("B", 1, "e", "/b")
	c := newListener("C", 1, "e", "/a")
	for _, l := range []*Listener{a, b, c} {
		_, err := r.Register(l)
		require.NoError(t, err)
	}
	assert.Equal(t, []*Listener{c, a, b}, r.ListAll())
}

func TestGetActiveWebhookNormalisesPath(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "orders/")
	_, err := r.Register(a)
	require.NoError(t, err)
	assert.Equal(t, "/orders", a.Identity.ContextPath)
	assert.Same(t, a, r.GetActiveWebhook("orders"))
	assert.Same(t, a, r.GetActiveWebhook("/orders/"))
	assert.Nil(t, r.GetActiveWebhook("/missing"))
}

func TestQueryAndAggregateHealth(t *testing.T) {
	r := NewRegistry(Options{})
	a := NewListener(Identity{DefinitionID: "P", Version: 1, ElementID: "e1", ContextPath: "/x"}, stubExec{kind: "github"}, 10)
	b := NewListener(Identity{DefinitionID: "Q", Version: 1, ElementID: "e2", ContextPath: "/x"}, stubExec{kind: "slack"}, 10)
	c := NewListener(Identity{DefinitionID: "P", Version: 1, ElementID: "e3", ContextPath: "/y"}, stubExec{kind: "github"}, 10)
	for _, l := range []*Listener{a, b, c} {
		_, err := r.Register(l)
		require.NoError(t, err)
	}

	assert.Equal(t, []*Listener{a, b, c}, r.Query(Query{}))
	assert.Equal(t, []*Listener{a, c}, r.Query(Query{Type: "github"}))
	assert.Equal(t, []*Listener{a, c}, r.Query(Query{DefinitionID: "P"}))
	assert.Equal(t, []*Listener{b}, r.Query(Query{ElementID: "e2"}))
	assert.Equal(t, []*Listener{a, b}, r.Query(Query{Path: "x"}))
	assert.Empty(t, r.Query(Query{DefinitionID: "none"}))

	h := r.AggregateHealth()
	assert.Equal(t, connector.StatusDown, h.Status)
	assert.Equal(t, "1 of 3 webhooks are down", h.Reason)

	require.NoError(t, r.Deregister(b))
	assert.True(t, r.AggregateHealth().IsUp())
}

func TestObserverReceivesTransitions(t *testing.T) {
	r := NewRegistry(Options{QueueCapacity: 1})
	var got []string
	r.AddObserver(ObserverFunc(func(e Event) {
		assert.False(t, e.OccurredAt.IsZero())
		got = append(got, string(e.Type)+":"+e.Listener.Identity.DefinitionID)
	}))
	r.AddObserver(nil)

	a := newListener("A", 1, "e", "/x")
	b := newListener("B", 1, "e", "/x")
	_, _ = r.Register(a)
	_, _ = r.Register(b)
	_, _ = r.Register(newListener("A", 1, "e", "/x"))
	_, _ = r.Register(newListener("C", 1, "e", "/x"))
	require.NoError(t, r.Deregister(a))

	assert.Equal(t, []string{
		"activated:A", "queued:B", "conflict:A", "rejected:C", "deregistered:A", "promoted:B",
	}, got)
}

func TestReset(t *testing.T) {
	r := NewRegistry(Options{})
	a := newListener("A", 1, "e", "/x")
	_, _ = r.Register(a)
	_, _ = r.Register(newListener("B", 1, "e", "/x"))
	r.Reset()
	assert.Empty(t, r.ListAll())
	assert.Nil(t, r.GetActiveWebhook("/x"))
	assert.True(t, IsUnknownPath(r.Deregister(a)))

	out, err := r.Register(newListener("C", 1, "e", "/x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"x":         "/x",
		"/x/":       "/x",
		"a/b":       "/a/b",
		"//a//b//":  "/a/b",
		" /spaced ": "/spaced",
	}
	for in, want := range cases {
		t.Run(strings.TrimSpace(in), func(t *testing.T) {
			assert.Equal(t, want, NormalizePath(in))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "activated", OutcomeActivated.String())
	assert.Equal(t, "queued", OutcomeQueued.String())
	assert.Equal(t, "conflict", OutcomeConflict.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
