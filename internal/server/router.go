package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hookd/internal/connector"
	"github.com/loykin/hookd/internal/importer"
	"github.com/loykin/hookd/internal/webhook"
)

// Router serves inbound webhook calls and the management API.
// Endpoints:
//   ANY    {inbound}/*path
//   GET    {basePath}/status
//   GET    {basePath}/webhooks          query: type, definition, element, path
//   GET    {basePath}/webhooks/health
//   GET    {basePath}/paths
//   GET    {basePath}/paths/*path
//   GET    {basePath}/definitions
//   POST   {basePath}/definitions       body: Definition JSON
//   DELETE {basePath}/definitions/:id   query: version (optional)
// basePath may be empty; inbound defaults to /inbound.

// Deployer is the definition lifecycle the API exposes. *importer.Importer
// implements it.
type Deployer interface {
	Deploy(ctx context.Context, d importer.Definition) (importer.DeployResult, error)
	Undeploy(ctx context.Context, id string, version int) error
	Deployed() []importer.Definition
}

type Options struct {
	Registry      *webhook.Registry
	Deployer      Deployer // nil disables the definitions endpoints
	BasePath      string
	InboundPrefix string
	MaxBodyBytes  int64
	RateLimit     float64 // requests per second per path, <= 0 disables
	Burst         int
	AccessLog     io.Writer
	Logger        *slog.Logger
}

type Router struct {
	reg      *webhook.Registry
	deployer Deployer
	basePath string
	inbound  string
	maxBody  int64
	limits   *pathLimiter
	access   io.Writer
	logger   *slog.Logger
}

func NewRouter(opts Options) *Router {
	inbound := sanitizeBase(opts.InboundPrefix)
	if inbound == "" {
		inbound = "/inbound"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		reg:      opts.Registry,
		deployer: opts.Deployer,
		basePath: sanitizeBase(opts.BasePath),
		inbound:  inbound,
		maxBody:  opts.MaxBodyBytes,
		limits:   newPathLimiter(opts.RateLimit, opts.Burst),
		access:   opts.AccessLog,
		logger:   opts.Logger.With("component", "http"),
	}
}

// Handler returns a gin engine with every route mounted.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.access != nil {
		g.Use(gin.LoggerWithWriter(r.access))
	}
	r.Mount(g)
	return g
}

// Mount adds the routes to an existing gin engine.
func (r *Router) Mount(g *gin.Engine) {
	g.Any(r.inbound+"/*path", r.handleInbound)

	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/webhooks", r.handleWebhooks)
	group.GET("/webhooks/health", r.handleHealth)
	group.GET("/paths", r.handlePaths)
	group.GET("/paths/*path", r.handlePath)
	group.GET("/definitions", r.handleDefinitions)
	group.POST("/definitions", r.handleDeploy)
	group.DELETE("/definitions/:id", r.handleUndeploy)
}

// --- Views ---

type listenerView struct {
	webhook.Identity
	Type       string               `json:"type"`
	State      string               `json:"state"`
	Health     connector.Health     `json:"health"`
	Activities []connector.Activity `json:"activities"`
}

func viewOf(l *webhook.Listener, state string) listenerView {
	return listenerView{
		Identity:   l.Identity,
		Type:       l.Type(),
		State:      state,
		Health:     l.Context.Health(),
		Activities: l.Context.Activities(),
	}
}

type pathView struct {
	Path   string         `json:"path"`
	Active *listenerView  `json:"active,omitempty"`
	Queued []listenerView `json:"queued"`
}

func pathViewOf(st webhook.PathState) pathView {
	v := pathView{Path: st.Path, Queued: make([]listenerView, 0, len(st.Queued))}
	if st.Active != nil {
		a := viewOf(st.Active, "active")
		v.Active = &a
	}
	for _, q := range st.Queued {
		v.Queued = append(v.Queued, viewOf(q, "queued"))
	}
	return v
}

type healthView struct {
	connector.Health
	Webhooks int `json:"webhooks"`
}

// --- Handlers ---

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleWebhooks(c *gin.Context) {
	q := webhook.Query{
		Type:         c.Query("type"),
		DefinitionID: c.Query("definition"),
		ElementID:    c.Query("element"),
		Path:         c.Query("path"),
	}
	active := make(map[*webhook.Listener]bool)
	for _, st := range r.reg.States() {
		if st.Active != nil {
			active[st.Active] = true
		}
	}
	out := make([]listenerView, 0)
	for _, l := range r.reg.Query(q) {
		state := "queued"
		if active[l] {
			state = "active"
		}
		out = append(out, viewOf(l, state))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHealth(c *gin.Context) {
	h := r.reg.AggregateHealth()
	code := http.StatusOK
	if !h.IsUp() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, healthView{Health: h, Webhooks: len(r.reg.ListAll())})
}

func (r *Router) handlePaths(c *gin.Context) {
	paths := r.reg.Paths()
	if paths == nil {
		paths = []string{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"paths": paths})
}

func (r *Router) handlePath(c *gin.Context) {
	p := c.Param("path")
	st, ok := r.reg.Snapshot(p)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{
			Error: "context path " + strconv.Quote(webhook.NormalizePath(p)) + " is not registered",
			Code:  webhook.TextCodeUnknownPath,
		})
		return
	}
	writeJSON(c, http.StatusOK, pathViewOf(st))
}

func (r *Router) requireDeployer(c *gin.Context) bool {
	if r.deployer == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "definitions are not managed by this server"})
		return false
	}
	return true
}

func (r *Router) handleDefinitions(c *gin.Context) {
	if !r.requireDeployer(c) {
		return
	}
	defs := r.deployer.Deployed()
	if defs == nil {
		defs = []importer.Definition{}
	}
	writeJSON(c, http.StatusOK, defs)
}

func (r *Router) handleDeploy(c *gin.Context) {
	if !r.requireDeployer(c) {
		return
	}
	var d importer.Definition
	if err := c.ShouldBindJSON(&d); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	// API deploys never originate from the definitions directory.
	d.Source = ""
	res, err := r.deployer.Deploy(c.Request.Context(), d)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleUndeploy(c *gin.Context) {
	if !r.requireDeployer(c) {
		return
	}
	version := 0
	if v := strings.TrimSpace(c.Query("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "version must be a non-negative integer"})
			return
		}
		version = n
	}
	if err := r.deployer.Undeploy(c.Request.Context(), c.Param("id"), version); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
