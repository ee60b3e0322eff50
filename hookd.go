// Package hookd embeds a webhook context-path registry: one active
// listener per path, later claimants wait in a bounded FIFO queue and are
// promoted when the owner goes away.
package hookd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/hookd/internal/config"
	"github.com/loykin/hookd/internal/connector"
	"github.com/loykin/hookd/internal/history"
	hfactory "github.com/loykin/hookd/internal/history/factory"
	"github.com/loykin/hookd/internal/importer"
	"github.com/loykin/hookd/internal/metrics"
	iapi "github.com/loykin/hookd/internal/server"
	"github.com/loykin/hookd/internal/store"
	sfactory "github.com/loykin/hookd/internal/store/factory"
	"github.com/loykin/hookd/internal/webhook"
)

// Re-export core types for external consumers.

type Identity = webhook.Identity

type Listener = webhook.Listener

type Executable = webhook.Executable

type Request = webhook.Request

type Response = webhook.Response

type Outcome = webhook.Outcome

type Event = webhook.Event

type Health = connector.Health

type Definition = importer.Definition

type Element = importer.Element

type DeployResult = importer.DeployResult

type HistorySink = history.Sink

type DefinitionStore = store.Store

type Config = cfg.FileConfig

const (
	OutcomeActivated = webhook.OutcomeActivated
	OutcomeQueued    = webhook.OutcomeQueued
	OutcomeConflict  = webhook.OutcomeConflict
	OutcomeRejected  = webhook.OutcomeRejected
)

var (
	IsConflict         = webhook.IsConflict
	IsCapacityExceeded = webhook.IsCapacityExceeded
	IsUnknownListener  = webhook.IsUnknownListener
	IsNotDeployed      = importer.IsNotDeployed
)

type Options struct {
	QueueCapacity  int
	LogCapacity    int
	HistoryBuffer  int
	Store          DefinitionStore // optional
	DefinitionsDir string          // optional
	WatchDebounce  time.Duration
	Logger         *slog.Logger
}

// HandlerOptions configures the HTTP surface returned by Service.Handler.
type HandlerOptions struct {
	BasePath      string
	InboundPrefix string
	MaxBodyBytes  int64
	RateLimit     float64
	Burst         int
	AccessLog     io.Writer
}

// Service ties the registry to the importer and the history dispatcher.
type Service struct {
	reg        *webhook.Registry
	importer   *importer.Importer
	dispatcher *history.Dispatcher
	store      DefinitionStore
	logCap     int
	logger     *slog.Logger

	mu    sync.Mutex
	sinks []HistorySink
}

func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	reg := webhook.NewRegistry(webhook.Options{QueueCapacity: opts.QueueCapacity, Logger: opts.Logger})
	im, err := importer.New(importer.Options{
		Registry:    reg,
		Store:       opts.Store,
		Dir:         opts.DefinitionsDir,
		LogCapacity: opts.LogCapacity,
		Debounce:    opts.WatchDebounce,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	d := history.NewDispatcher(opts.HistoryBuffer, opts.Logger)
	reg.AddObserver(d)
	return &Service{
		reg:        reg,
		importer:   im,
		dispatcher: d,
		store:      opts.Store,
		logCap:     opts.LogCapacity,
		logger:     opts.Logger,
	}, nil
}

// FromConfig builds a Service from a loaded configuration, opening the
// definition store and history sinks it names.
func FromConfig(c *Config, logger *slog.Logger) (*Service, error) {
	var st DefinitionStore
	if c.Store.DSN != "" {
		s, err := OpenStore(context.Background(), c.Store.DSN)
		if err != nil {
			return nil, err
		}
		st = s
	}
	var sinks []HistorySink
	for _, dsn := range c.History.Sinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			closeAll(sinks)
			if st != nil {
				_ = st.Close()
			}
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	svc, err := New(Options{
		QueueCapacity:  c.Webhook.QueueCapacity,
		LogCapacity:    c.Webhook.LogCapacity,
		HistoryBuffer:  c.History.Buffer,
		Store:          st,
		DefinitionsDir: c.Importer.Dir,
		WatchDebounce:  c.Importer.Debounce,
		Logger:         logger,
	})
	if err != nil {
		closeAll(sinks)
		return nil, err
	}
	svc.SetHistorySinks(sinks...)
	return svc, nil
}

// Register claims id.ContextPath for exec. The returned listener is the
// handle for Deregister.
func (s *Service) Register(id Identity, exec Executable) (*Listener, Outcome, error) {
	l := webhook.NewListener(id, exec, s.logCap)
	out, err := s.reg.Register(l)
	return l, out, err
}

func (s *Service) Deregister(l *Listener) error { return s.reg.Deregister(l) }

// Active returns the listener currently owning path, or nil.
func (s *Service) Active(path string) *Listener { return s.reg.GetActiveWebhook(path) }

func (s *Service) List() []*Listener { return s.reg.ListAll() }

func (s *Service) Health() Health { return s.reg.AggregateHealth() }

// Subscribe adds an observer for registry transitions. fn runs outside the
// registry locks and must not block.
func (s *Service) Subscribe(fn func(Event)) { s.reg.AddObserver(webhook.ObserverFunc(fn)) }

func (s *Service) Deploy(ctx context.Context, d Definition) (DeployResult, error) {
	return s.importer.Deploy(ctx, d)
}

func (s *Service) Undeploy(ctx context.Context, id string, version int) error {
	return s.importer.Undeploy(ctx, id, version)
}

func (s *Service) Deployed() []Definition { return s.importer.Deployed() }

// Restore redeploys definitions persisted in the store.
func (s *Service) Restore(ctx context.Context) (int, error) { return s.importer.Restore(ctx) }

// LoadDir syncs the definitions directory once.
func (s *Service) LoadDir(ctx context.Context) error { return s.importer.LoadDir(ctx) }

// Watch keeps the definitions directory in sync until ctx is done.
func (s *Service) Watch(ctx context.Context) error { return s.importer.Watch(ctx) }

func (s *Service) StartResync(schedule string) error { return s.importer.StartResync(schedule) }

// SetHistorySinks replaces the history sinks. Previously set sinks are not
// closed.
func (s *Service) SetHistorySinks(sinks ...HistorySink) {
	s.mu.Lock()
	s.sinks = append([]HistorySink(nil), sinks...)
	s.mu.Unlock()
	s.dispatcher.SetSinks(sinks...)
}

func (s *Service) router(o HandlerOptions) *iapi.Router {
	return iapi.NewRouter(iapi.Options{
		Registry:      s.reg,
		Deployer:      s.importer,
		BasePath:      o.BasePath,
		InboundPrefix: o.InboundPrefix,
		MaxBodyBytes:  o.MaxBodyBytes,
		RateLimit:     o.RateLimit,
		Burst:         o.Burst,
		AccessLog:     o.AccessLog,
		Logger:        s.logger,
	})
}

// Handler returns the inbound endpoint and management API as a gin engine.
func (s *Service) Handler(o HandlerOptions) http.Handler { return s.router(o).Handler() }

// Mount adds the routes to an existing gin engine.
func (s *Service) Mount(g *gin.Engine, o HandlerOptions) { s.router(o).Mount(g) }

// Close withdraws every deployed definition, flushes pending history and
// closes the sinks and the store.
func (s *Service) Close() error {
	s.importer.Close()
	s.dispatcher.Close()
	s.mu.Lock()
	sinks := s.sinks
	s.sinks = nil
	s.mu.Unlock()
	err := closeAll(sinks)
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	return err
}

func closeAll(sinks []HistorySink) error {
	var errs []error
	for _, sk := range sinks {
		if c, ok := sk.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink opens a sink from a DSN such as "sqlite:///var/lib/hookd/history.db",
// "postgres://...", "clickhouse://...", "opensearch://..." or "redis://...".
func NewHistorySink(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

// OpenStore opens a definition store and creates its schema.
func OpenStore(ctx context.Context, dsn string) (DefinitionStore, error) {
	st, err := sfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return st, nil
}

// NewHTTPServer builds an http.Server for the given server config without starting it.
func NewHTTPServer(c cfg.ServerConfig, h http.Handler) (*http.Server, error) {
	return iapi.NewServer(c, h)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr until the listener fails.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
