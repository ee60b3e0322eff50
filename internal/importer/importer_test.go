package importer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hookd/internal/env"
	"github.com/loykin/hookd/internal/store/sqlite"
	"github.com/loykin/hookd/internal/webhook"
)

func newImporter(t *testing.T, opts Options) (*Importer, *webhook.Registry) {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = webhook.NewRegistry(webhook.Options{})
	}
	im, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(im.Close)
	return im, opts.Registry
}

func def(id string, version int, paths ...string) Definition {
	d := Definition{ID: id, Version: version}
	for i, p := range paths {
		d.Elements = append(d.Elements, Element{ID: "el" + string(rune('a'+i)), ContextPath: p})
	}
	return d
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestDeployRegistersElements(t *testing.T) {
	im, reg := newImporter(t, Options{})
	res, err := im.Deploy(context.Background(), def("orders", 1, "/orders", "/refunds"))
	require.NoError(t, err)
	require.Len(t, res.Elements, 2)
	assert.Equal(t, "activated", res.Elements[0].Outcome)
	assert.Equal(t, "/refunds", res.Elements[1].ContextPath)

	active := reg.GetActiveWebhook("/orders")
	require.NotNil(t, active)
	assert.Equal(t, "orders", active.Identity.DefinitionID)
	assert.Equal(t, "webhook", active.Type())
	assert.Len(t, im.Deployed(), 1)
}

func TestDeployNewVersionHandsOver(t *testing.T) {
	im, reg := newImporter(t, Options{})
	ctx := context.Background()
	_, err := im.Deploy(ctx, def("orders", 1, "/orders"))
	require.NoError(t, err)

	res, err := im.Deploy(ctx, def("orders", 2, "/orders"))
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Elements[0].Outcome)
	assert.Equal(t, []int{1}, res.Replaced)

	active := reg.GetActiveWebhook("/orders")
	require.NotNil(t, active)
	assert.Equal(t, 2, active.Identity.Version)
	assert.True(t, active.Context.Health().IsUp())
	assert.Len(t, reg.ListAll(), 1)

	deployed := im.Deployed()
	require.Len(t, deployed, 1)
	assert.Equal(t, 2, deployed[0].Version)
}

func TestRedeploySameVersionReplacesListeners(t *testing.T) {
	im, reg := newImporter(t, Options{})
	ctx := context.Background()
	_, err := im.Deploy(ctx, def("orders", 1, "/orders"))
	require.NoError(t, err)
	first := reg.GetActiveWebhook("/orders")

	res, err := im.Deploy(ctx, def("orders", 1, "/orders"))
	require.NoError(t, err)
	assert.Equal(t, "activated", res.Elements[0].Outcome)
	second := reg.GetActiveWebhook("/orders")
	assert.NotSame(t, first, second)
	assert.Len(t, reg.ListAll(), 1)
}

func TestDeployCompetingDefinitionsQueue(t *testing.T) {
	im, reg := newImporter(t, Options{})
	ctx := context.Background()
	_, err := im.Deploy(ctx, def("orders", 1, "/shared"))
	require.NoError(t, err)
	res, err := im.Deploy(ctx, def("billing", 1, "/shared"))
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Elements[0].Outcome)

	require.NoError(t, im.Undeploy(ctx, "orders", 0))
	assert.Equal(t, "billing", reg.GetActiveWebhook("/shared").Identity.DefinitionID)
}

func TestDeployReportsRejectedElements(t *testing.T) {
	reg := webhook.NewRegistry(webhook.Options{QueueCapacity: 1})
	im, _ := newImporter(t, Options{Registry: reg})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := im.Deploy(ctx, def(id, 1, "/x"))
		require.NoError(t, err)
	}
	res, err := im.Deploy(ctx, def("c", 1, "/x"))
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.Elements[0].Outcome)
	assert.NotEmpty(t, res.Elements[0].Error)

	// undeploying a definition whose element was rejected touches nothing else
	require.NoError(t, im.Undeploy(ctx, "c", 1))
	assert.Len(t, reg.ListAll(), 2)
}

func TestDeployValidation(t *testing.T) {
	im, _ := newImporter(t, Options{})
	tests := []struct {
		name string
		d    Definition
	}{
		{"missing id", Definition{Version: 1, Elements: []Element{{ID: "a", ContextPath: "/a"}}}},
		{"bad version", Definition{ID: "x", Elements: []Element{{ID: "a", ContextPath: "/a"}}}},
		{"no elements", Definition{ID: "x", Version: 1}},
		{"no element id", Definition{ID: "x", Version: 1, Elements: []Element{{ContextPath: "/a"}}}},
		{"duplicate element", Definition{ID: "x", Version: 1, Elements: []Element{{ID: "a", ContextPath: "/a"}, {ID: "a", ContextPath: "/b"}}}},
		{"no path", Definition{ID: "x", Version: 1, Elements: []Element{{ID: "a", ContextPath: "/"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := im.Deploy(context.Background(), tt.d)
			require.Error(t, err)
			assert.True(t, IsInvalidDefinition(err))
		})
	}
}

func TestUndeployUnknown(t *testing.T) {
	im, _ := newImporter(t, Options{})
	err := im.Undeploy(context.Background(), "ghost", 0)
	require.Error(t, err)
	assert.True(t, IsNotDeployed(err))
	assert.True(t, IsNotDeployed(im.Undeploy(context.Background(), "ghost", 3)))
}

func TestStorePersistenceAndRestore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "defs.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.EnsureSchema(ctx))

	im, _ := newImporter(t, Options{Store: db})
	_, err = im.Deploy(ctx, def("orders", 1, "/orders"))
	require.NoError(t, err)
	_, err = im.Deploy(ctx, def("orders", 2, "/orders"))
	require.NoError(t, err)
	_, err = im.Deploy(ctx, def("billing", 1, "/billing"))
	require.NoError(t, err)
	require.NoError(t, im.Undeploy(ctx, "billing", 1))

	recs, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Version)

	// a fresh daemon restores from the store
	im2, reg2 := newImporter(t, Options{Store: db})
	n, err := im2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	active := reg2.GetActiveWebhook("/orders")
	require.NotNil(t, active)
	assert.Equal(t, 2, active.Identity.Version)
}

func TestCloseWithdrawsEverything(t *testing.T) {
	reg := webhook.NewRegistry(webhook.Options{})
	im, err := New(Options{Registry: reg})
	require.NoError(t, err)
	_, err = im.Deploy(context.Background(), def("orders", 1, "/a", "/b"))
	require.NoError(t, err)
	im.Close()
	assert.Empty(t, reg.ListAll())
	assert.Empty(t, im.Deployed())
}

func TestForwarderVerify(t *testing.T) {
	d := Definition{ID: "gh", Version: 1}
	f := newForwarder(d, Element{ID: "push", Secret: "s3cret"}, http.DefaultClient)
	ctx := context.Background()

	req := &webhook.Request{Header: http.Header{}}
	assert.Error(t, f.Verify(ctx, req))
	req.Header.Set(DefaultSecretHeader, "s3cret")
	assert.NoError(t, f.Verify(ctx, req))

	custom := newForwarder(d, Element{ID: "push", Secret: "x", SecretHeader: "X-Token"}, http.DefaultClient)
	req.Header.Set("X-Token", "x")
	assert.NoError(t, custom.Verify(ctx, req))

	open := newForwarder(d, Element{ID: "open"}, http.DefaultClient)
	assert.NoError(t, open.Verify(ctx, &webhook.Request{Header: http.Header{}}))
	assert.Equal(t, "webhook", open.Type())
}

func TestForwarderTrigger(t *testing.T) {
	var gotBody, gotID string
	status := http.StatusOK
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotID = r.Header.Get("X-Hookd-Request-Id")
		w.WriteHeader(status)
	}))
	defer target.Close()

	d := Definition{ID: "gh", Version: 3}
	ctx := context.Background()
	req := &webhook.Request{ID: "req-1", Method: http.MethodPost, Header: http.Header{}, Body: []byte(`{"a":1}`)}

	ack := newForwarder(d, Element{ID: "push", Type: "github"}, http.DefaultClient)
	assert.Equal(t, "github", ack.Type())
	resp, err := ack.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)

	fwd := newForwarder(d, Element{ID: "push", Target: target.URL}, target.Client())
	resp, err = fwd.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Equal(t, `{"a":1}`, gotBody)
	assert.Equal(t, "req-1", gotID)

	status = http.StatusInternalServerError
	resp, err = fwd.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)

	broken := newForwarder(d, Element{ID: "push", Target: "http://127.0.0.1:1"}, http.DefaultClient)
	_, err = broken.Trigger(ctx, req)
	assert.Error(t, err)
}

func TestDeployResolvesSecretsFromEnv(t *testing.T) {
	vars := env.New().Set("ORDERS_SECRET", "s3cret")
	im, reg := newImporter(t, Options{Env: vars})
	d := Definition{ID: "orders", Version: 1, Elements: []Element{{ID: "a", ContextPath: "/a", Secret: "${ORDERS_SECRET}"}}}
	_, err := im.Deploy(context.Background(), d)
	require.NoError(t, err)

	l := reg.GetActiveWebhook("/a")
	require.NotNil(t, l)
	v := l.Executable.(webhook.Verifier)
	req := &webhook.Request{Header: http.Header{}}
	req.Header.Set(DefaultSecretHeader, "s3cret")
	assert.NoError(t, v.Verify(context.Background(), req))

	// the deployed definition keeps the reference, not the value
	assert.Equal(t, "${ORDERS_SECRET}", im.Deployed()[0].Elements[0].Secret)
}
