// Package importer turns deployed definitions into webhook registrations.
// It is the only writer of the registry in a running daemon.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/hookd/internal/env"
	"github.com/loykin/hookd/internal/store"
	"github.com/loykin/hookd/internal/webhook"
)

type Options struct {
	Registry    *webhook.Registry
	Store       store.Store // optional
	Dir         string      // optional definitions directory
	LogCapacity int
	Debounce    time.Duration
	HTTPClient  *http.Client
	// Env resolves ${VAR} in element secrets and targets. Defaults to the
	// process environment.
	Env    *env.Env
	Logger *slog.Logger
}

// ElementResult is the registration outcome of one element.
type ElementResult struct {
	ElementID   string `json:"element_id"`
	ContextPath string `json:"context_path"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

type DeployResult struct {
	DefinitionID string          `json:"definition_id"`
	Version      int             `json:"version"`
	Elements     []ElementResult `json:"elements"`
	// Replaced lists versions of the same definition withdrawn by this deploy.
	Replaced []int `json:"replaced,omitempty"`
}

type deployment struct {
	def       Definition
	listeners []*webhook.Listener
}

type fileState struct {
	key     key
	modTime time.Time
	size    int64
}

type Importer struct {
	reg      *webhook.Registry
	st       store.Store
	dir      string
	logCap   int
	debounce time.Duration
	client   *http.Client
	env      *env.Env
	logger   *slog.Logger

	// mu serialises deploys so handovers of one definition never interleave.
	mu       sync.Mutex
	deployed map[key]*deployment
	files    map[string]fileState

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(opts Options) (*Importer, error) {
	if opts.Registry == nil {
		return nil, errors.New("importer: registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Env == nil {
		opts.Env = env.New().FromOS()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Importer{
		reg:      opts.Registry,
		st:       opts.Store,
		dir:      opts.Dir,
		logCap:   opts.LogCapacity,
		debounce: opts.Debounce,
		client:   opts.HTTPClient,
		env:      opts.Env,
		logger:   opts.Logger.With("component", "importer"),
		deployed: make(map[key]*deployment),
		files:    make(map[string]fileState),
	}, nil
}

// Deploy registers every element of d. Registration failures are reported
// per element and do not abort the deploy. Once the new version is
// registered, other deployed versions of the same definition are withdrawn,
// which promotes the new listeners on paths they shared.
func (im *Importer) Deploy(ctx context.Context, d Definition) (DeployResult, error) {
	if err := d.Validate(); err != nil {
		return DeployResult{}, err
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	res := im.deployLocked(d)
	if err := im.persistLocked(ctx, d); err != nil {
		return res, err
	}
	return res, nil
}

func (im *Importer) deployLocked(d Definition) DeployResult {
	res := DeployResult{DefinitionID: d.ID, Version: d.Version}

	// Same version again: withdraw first, identical identities would conflict.
	if prev, ok := im.deployed[d.key()]; ok {
		im.withdrawLocked(prev)
	}

	dep := &deployment{def: d}
	for _, e := range d.Elements {
		l := webhook.NewListener(d.identity(e), newForwarder(d, im.resolve(e), im.client), im.logCap)
		out, err := im.reg.Register(l)
		er := ElementResult{ElementID: e.ID, ContextPath: l.Identity.ContextPath, Outcome: out.String()}
		if err != nil {
			er.Error = err.Error()
			im.logger.Warn("element registration failed", "definition", d.ID, "version", d.Version,
				"element", e.ID, "path", l.Identity.ContextPath, "error", err)
		}
		if out == webhook.OutcomeActivated || out == webhook.OutcomeQueued {
			dep.listeners = append(dep.listeners, l)
		}
		res.Elements = append(res.Elements, er)
	}
	im.deployed[d.key()] = dep

	for k, other := range im.deployed {
		if k.id != d.ID || k.version == d.Version {
			continue
		}
		im.withdrawLocked(other)
		delete(im.deployed, k)
		res.Replaced = append(res.Replaced, k.version)
		if im.st != nil {
			if err := im.st.Delete(context.Background(), k.id, k.version); err != nil {
				im.logger.Warn("failed to delete replaced definition", "definition", k.id, "version", k.version, "error", err)
			}
		}
	}
	sort.Ints(res.Replaced)
	im.logger.Info("definition deployed", "definition", d.ID, "version", d.Version,
		"elements", len(d.Elements), "replaced", res.Replaced)
	return res
}

// resolve expands variables in the element fields that commonly carry
// secrets. The stored definition keeps the unexpanded form.
func (im *Importer) resolve(e Element) Element {
	e.Secret = im.env.Expand(e.Secret)
	e.SecretHeader = im.env.Expand(e.SecretHeader)
	e.Target = im.env.Expand(e.Target)
	return e
}

func (im *Importer) withdrawLocked(dep *deployment) {
	for _, l := range dep.listeners {
		if err := im.reg.Deregister(l); err != nil {
			im.logger.Warn("element deregistration failed", "listener", l.Identity.String(), "error", err)
		}
	}
	dep.listeners = nil
}

func (im *Importer) persistLocked(ctx context.Context, d Definition) error {
	if im.st == nil {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode definition %s: %w", d.ID, err)
	}
	rec := store.Record{DefinitionID: d.ID, Version: d.Version, Source: d.Source, Payload: payload}
	if err := im.st.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist definition %s:%d: %w", d.ID, d.Version, err)
	}
	return nil
}

// Undeploy withdraws one version of a definition, or all of them when
// version is 0.
func (im *Importer) Undeploy(ctx context.Context, id string, version int) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.undeployLocked(ctx, id, version)
}

func (im *Importer) undeployLocked(ctx context.Context, id string, version int) error {
	found := false
	for k, dep := range im.deployed {
		if k.id != id || (version != 0 && k.version != version) {
			continue
		}
		found = true
		im.withdrawLocked(dep)
		delete(im.deployed, k)
		im.logger.Info("definition undeployed", "definition", k.id, "version", k.version)
	}
	if !found {
		return errNotDeployed(id, version)
	}
	if im.st != nil {
		if err := im.st.Delete(ctx, id, version); err != nil {
			return fmt.Errorf("delete definition %s: %w", id, err)
		}
	}
	return nil
}

// Deployed lists deployed definitions ordered by id and version.
func (im *Importer) Deployed() []Definition {
	im.mu.Lock()
	out := make([]Definition, 0, len(im.deployed))
	for _, dep := range im.deployed {
		out = append(out, dep.def)
	}
	im.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Restore redeploys definitions saved in the store.
func (im *Importer) Restore(ctx context.Context) (int, error) {
	if im.st == nil {
		return 0, nil
	}
	recs, err := im.st.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored definitions: %w", err)
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	n := 0
	var errs []error
	for _, rec := range recs {
		var d Definition
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			errs = append(errs, fmt.Errorf("decode stored definition %s:%d: %w", rec.DefinitionID, rec.Version, err))
			continue
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		im.deployLocked(d)
		if d.Source != "" {
			im.files[d.Source] = fileState{key: d.key()}
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Close stops the resync schedule and withdraws every deployment from the
// registry. Stored definitions are kept.
func (im *Importer) Close() {
	im.StopResync()
	im.mu.Lock()
	defer im.mu.Unlock()
	for k, dep := range im.deployed {
		im.withdrawLocked(dep)
		delete(im.deployed, k)
	}
}
