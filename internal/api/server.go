// Package api is the public HTTP surface of the orchestrator.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/provision"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/danmuck/spawnctl/internal/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provisioner is the orchestration surface served over HTTP.
type Provisioner interface {
	CallerContext(caller units.Principal) provision.CallerContext
	CreateUnit(ctx context.Context, caller provision.CallerContext, cycles units.Cycles, settings units.Settings) (units.UnitID, error)
	Signup(ctx context.Context, caller provision.CallerContext, state units.AppState) (units.UnitID, error)
	Reinstall(ctx context.Context, caller provision.CallerContext, unit units.UnitID, mode units.InstallMode) error
	UpdateSettings(ctx context.Context, unit units.UnitID, settings units.Settings) error
	Lookup(ctx context.Context, unit units.UnitID) (units.AppState, error)
	ListUnits() []units.UnitID
	Flows() []provision.Flow
	Flow(id string) (provision.Flow, bool)
	Orphans() []provision.Flow
}

// Wallet reports the orchestrator's own balance.
type Wallet interface {
	Balance64(ctx context.Context) (uint64, error)
	Balance128(ctx context.Context) (units.Cycles, error)
	Ticks() []wallet.Tick
}

type Config struct {
	Name        string
	Addr        string
	CORSOrigins []string
}

// Server routes public requests into a Provisioner and a Wallet.
type Server struct {
	Name    string
	Addr    string
	Started time.Time

	prov    Provisioner
	wallet  Wallet
	router  *gin.Engine
	handler http.Handler
}

func NewServer(cfg Config, prov Provisioner, w Wallet) *Server {
	observability.RegisterMetrics()
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "spawnctl"
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger(name)))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", HeaderCaller},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:    name,
		Addr:    cfg.Addr,
		Started: time.Now(),
		prov:    prov,
		wallet:  w,
		router:  r,
		handler: otelhttp.NewHandler(r, name),
	}
	s.registerRoutes()
	return s
}

// Handler is the traced router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer wraps the router for graceful shutdown by the caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

// statusFor maps an orchestration error onto an HTTP status.
func statusFor(err error) int {
	var cfgErr *units.ConfigurationError
	var rr *provision.RemoteRejection
	var rej *authority.Reject
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, units.ErrInvalidCycles),
		errors.Is(err, units.ErrInvalidInstallMode),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &rr), errors.As(err, &rej):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
