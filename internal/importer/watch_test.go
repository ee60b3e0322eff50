package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hookd/internal/webhook"
)

const ordersTOML = `
id = "orders"
version = 1

[[elements]]
id = "start"
context_path = "/orders"
type = "shop"
`

const billingYAML = `
id: billing
version: 2
elements:
  - id: hook
    context_path: billing
    secret: abc
`

const refundsJSON = `{"id":"refunds","version":1,"elements":[{"id":"r","context_path":"/refunds"}]}`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDecodeFileFormats(t *testing.T) {
	dir := t.TempDir()

	d, err := DecodeFile(write(t, dir, "orders.toml", ordersTOML))
	require.NoError(t, err)
	assert.Equal(t, "orders", d.ID)
	assert.Equal(t, "shop", d.Elements[0].Type)
	assert.Equal(t, filepath.Join(dir, "orders.toml"), d.Source)

	d, err = DecodeFile(write(t, dir, "billing.yml", billingYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)
	assert.Equal(t, "abc", d.Elements[0].Secret)

	d, err = DecodeFile(write(t, dir, "refunds.json", refundsJSON))
	require.NoError(t, err)
	assert.Equal(t, "/refunds", d.Elements[0].ContextPath)

	_, err = DecodeFile(write(t, dir, "notes.txt", "x"))
	assert.Error(t, err)
	_, err = DecodeFile(write(t, dir, "invalid.toml", "id = \"x\""))
	assert.True(t, IsInvalidDefinition(err))
}

func TestLoadDirSyncsDeployments(t *testing.T) {
	dir := t.TempDir()
	im, reg := newImporter(t, Options{Dir: dir})
	ctx := context.Background()

	write(t, dir, "orders.toml", ordersTOML)
	billing := write(t, dir, "billing.yaml", billingYAML)
	write(t, dir, "README.md", "ignored")
	write(t, dir, "broken.json", "{")

	err := im.LoadDir(ctx)
	assert.Error(t, err, "broken file is reported")
	assert.NotNil(t, reg.GetActiveWebhook("/orders"))
	assert.NotNil(t, reg.GetActiveWebhook("/billing"))

	// unchanged files are not redeployed
	before := reg.GetActiveWebhook("/orders")
	require.NoError(t, os.Remove(filepath.Join(dir, "broken.json")))
	require.NoError(t, im.LoadDir(ctx))
	assert.Same(t, before, reg.GetActiveWebhook("/orders"))

	// removal undeploys
	require.NoError(t, os.Remove(billing))
	require.NoError(t, im.LoadDir(ctx))
	assert.Nil(t, reg.GetActiveWebhook("/billing"))

	// a new version in the same file replaces the old one
	later := time.Now().Add(2 * time.Second)
	p := write(t, dir, "orders.toml", `
id = "orders"
version = 2

[[elements]]
id = "start"
context_path = "/orders"
`)
	require.NoError(t, os.Chtimes(p, later, later))
	require.NoError(t, im.LoadDir(ctx))
	active := reg.GetActiveWebhook("/orders")
	require.NotNil(t, active)
	assert.Equal(t, 2, active.Identity.Version)
	assert.Len(t, reg.ListAll(), 1)
}

func TestLoadDirWithoutDir(t *testing.T) {
	im, _ := newImporter(t, Options{})
	assert.NoError(t, im.LoadDir(context.Background()))
	assert.Error(t, im.Watch(context.Background()))

	missing, _ := newImporter(t, Options{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, missing.LoadDir(context.Background()))
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	reg := webhook.NewRegistry(webhook.Options{})
	im, _ := newImporter(t, Options{Dir: dir, Registry: reg, Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, im.Watch(ctx))

	p := write(t, dir, "refunds.json", refundsJSON)
	require.Eventually(t, func() bool { return reg.GetActiveWebhook("/refunds") != nil }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(p))
	require.Eventually(t, func() bool { return reg.GetActiveWebhook("/refunds") == nil }, 5*time.Second, 10*time.Millisecond)
}

func TestStartResync(t *testing.T) {
	dir := t.TempDir()
	im, reg := newImporter(t, Options{Dir: dir})

	assert.Error(t, im.StartResync("not a schedule"))
	require.NoError(t, im.StartResync("@every 1s"))
	// replacing the schedule is allowed
	require.NoError(t, im.StartResync("@every 50ms"))

	write(t, dir, "orders.toml", ordersTOML)
	require.Eventually(t, func() bool { return reg.GetActiveWebhook("/orders") != nil }, 5*time.Second, 20*time.Millisecond)
	im.StopResync()
	im.StopResync()
}
