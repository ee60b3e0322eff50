package hookd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hookd/internal/history"
)

type noopExec struct{}

func (noopExec) Type() string { return "noop" }

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestServiceRegisterAndPromote(t *testing.T) {
	svc, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	sink := &recordingSink{}
	svc.SetHistorySinks(sink)

	var seen []Event
	var mu sync.Mutex
	svc.Subscribe(func(e Event) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	a, out, err := svc.Register(Identity{DefinitionID: "a", Version: 1, ElementID: "s", ContextPath: "hook"}, noopExec{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, out)
	b, out, err := svc.Register(Identity{DefinitionID: "b", Version: 1, ElementID: "s", ContextPath: "/hook"}, noopExec{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)
	assert.False(t, svc.Health().IsUp())

	_, out, err = svc.Register(a.Identity, noopExec{})
	assert.True(t, IsConflict(err))
	assert.Equal(t, OutcomeConflict, out)

	require.NoError(t, svc.Deregister(a))
	assert.Same(t, b, svc.Active("/hook"))
	assert.True(t, IsUnknownListener(svc.Deregister(a)))
	assert.Len(t, svc.List(), 1)

	mu.Lock()
	assert.Len(t, seen, 5)
	mu.Unlock()

	require.Eventually(t, func() bool { return len(sink.types()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []history.EventType{
		history.EventActivated, history.EventQueued, history.EventConflict,
		history.EventDeregistered, history.EventPromoted,
	}, sink.types())
}

func TestServiceDeployAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	res, err := svc.Deploy(context.Background(), Definition{ID: "orders", Version: 1, Elements: []Element{{ID: "e", ContextPath: "/orders"}}})
	require.NoError(t, err)
	assert.Equal(t, "activated", res.Elements[0].Outcome)
	assert.Len(t, svc.Deployed(), 1)

	h := svc.Handler(HandlerOptions{BasePath: "/api"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inbound/orders", strings.NewReader("{}")))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	g := gin.New()
	g.GET("/own", func(c *gin.Context) { c.String(http.StatusOK, "mine") })
	svc.Mount(g, HandlerOptions{BasePath: "/hooks-api", InboundPrefix: "/in"})
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hooks-api/paths", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/orders")

	require.NoError(t, svc.Undeploy(context.Background(), "orders", 0))
	assert.True(t, IsNotDeployed(svc.Undeploy(context.Background(), "orders", 0)))
	assert.Nil(t, svc.Active("/orders"))
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	defs := filepath.Join(dir, "defs")
	require.NoError(t, os.MkdirAll(defs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "a.json"),
		[]byte(`{"id":"a","version":1,"elements":[{"id":"x","context_path":"/a"}]}`), 0o600))

	c := &Config{}
	c.Store.DSN = "sqlite://" + filepath.Join(dir, "store.db")
	c.History.Sinks = []string{filepath.Join(dir, "history.db")}
	c.Importer.Dir = defs
	c.Webhook.QueueCapacity = 2

	svc, err := FromConfig(c, nil)
	require.NoError(t, err)
	require.NoError(t, svc.LoadDir(context.Background()))
	require.NotNil(t, svc.Active("/a"))
	require.NoError(t, svc.Close())

	// definitions survive in the store
	svc, err = FromConfig(c, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()
	n, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, svc.Active("/a"))
}

func TestFromConfigBadSink(t *testing.T) {
	c := &Config{}
	c.History.Sinks = []string{"ftp://nowhere"}
	_, err := FromConfig(c, nil)
	assert.Error(t, err)
}

func TestRegisterMetricsIdempotent(t *testing.T) {
	r := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(r))
	require.NoError(t, RegisterMetrics(r))
}
