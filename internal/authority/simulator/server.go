package simulator

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/units"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server exposes an Authority over the authority wire protocol.
type Server struct {
	Authority *Authority
	Started   time.Time

	router  *gin.Engine
	handler http.Handler
}

// NewServer mounts the authority wire routes on a gin router.
func NewServer(a *Authority) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("authority")))
	r.Use(observability.RequestMetricsMiddleware("authority"))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Authority: a,
		Started:   time.Now(),
		router:    r,
		handler:   otelhttp.NewHandler(r, "authority"),
	}
	s.registerRoutes()
	return s
}

// Handler is the traced router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": "authority",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/modules/:name", s.handleModule)

	v1 := r.Group("/v1")
	v1.POST("/create_unit", s.handleCreate)
	v1.POST("/install_code", s.handleInstall)
	v1.POST("/delete_unit", s.handleDelete)
	v1.POST("/update_settings", s.handleUpdate)
	v1.GET("/balance/:principal", s.handleBalance)
	v1.GET("/units", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"units": s.Authority.Units()})
	})
	v1.GET("/units/:id", func(c *gin.Context) {
		st, ok := s.Authority.Unit(units.UnitID(c.Param("id")))
		if !ok {
			writeReject(c, authority.Rejectf(authority.CodeDestinationInvalid, "unit %s not found", c.Param("id")))
			return
		}
		c.JSON(http.StatusOK, st)
	})
	v1.POST("/units/:id/call/:method", func(c *gin.Context) { s.handleInvoke(c, false) })
	v1.POST("/units/:id/query/:method", func(c *gin.Context) { s.handleInvoke(c, true) })
}

func callerOf(c *gin.Context) units.Principal {
	caller := strings.TrimSpace(c.GetHeader(authority.HeaderCaller))
	if caller == "" {
		return units.AnonymousPrincipal
	}
	return units.Principal(caller)
}

func (s *Server) handleCreate(c *gin.Context) {
	var req authority.CreateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeReject(c, authority.Rejectf(authority.CodeUnitReject, "decode create_unit: %v", err))
		return
	}
	id, err := s.Authority.CreateUnit(c.Request.Context(), callerOf(c), req)
	if err != nil {
		writeReject(c, err)
		return
	}
	c.JSON(http.StatusOK, authority.CreateUnitResponse{UnitID: id})
}

func (s *Server) handleInstall(c *gin.Context) {
	var req authority.InstallCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeReject(c, authority.Rejectf(authority.CodeUnitReject, "decode install_code: %v", err))
		return
	}
	if err := s.Authority.InstallCode(c.Request.Context(), callerOf(c), req); err != nil {
		writeReject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req authority.DeleteUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeReject(c, authority.Rejectf(authority.CodeUnitReject, "decode delete_unit: %v", err))
		return
	}
	if err := s.Authority.DeleteUnit(c.Request.Context(), callerOf(c), req.UnitID); err != nil {
		writeReject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req authority.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeReject(c, authority.Rejectf(authority.CodeUnitReject, "decode update_settings: %v", err))
		return
	}
	if err := s.Authority.UpdateSettings(c.Request.Context(), callerOf(c), req); err != nil {
		writeReject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleBalance(c *gin.Context) {
	amount := s.Authority.Balance(units.Principal(c.Param("principal")))
	c.JSON(http.StatusOK, authority.BalanceResponse{Amount: amount})
}

func (s *Server) handleInvoke(c *gin.Context, query bool) {
	arg, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeReject(c, authority.Rejectf(authority.CodeSysTransient, "read arg: %v", err))
		return
	}
	reply, err := s.Authority.Invoke(c.Request.Context(), callerOf(c), units.UnitID(c.Param("id")), c.Param("method"), arg, query)
	if err != nil {
		writeReject(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleModule(c *gin.Context) {
	code, err := s.Authority.ModuleCode(c.Request.Context(), c.Param("name"))
	if err != nil {
		rej := authority.AsReject(err)
		c.String(statusFor(rej.Code), rej.Message)
		return
	}
	c.Data(http.StatusOK, "application/wasm", code)
}

func writeReject(c *gin.Context, err error) {
	var rej *authority.Reject
	if !errors.As(err, &rej) {
		rej = &authority.Reject{Code: authority.CodeSysFatal, Message: err.Error()}
	}
	c.JSON(statusFor(rej.Code), rej)
}

func statusFor(code authority.RejectCode) int {
	switch code {
	case authority.CodeDestinationInvalid:
		return http.StatusNotFound
	case authority.CodeSysTransient:
		return http.StatusServiceUnavailable
	case authority.CodeUnitReject:
		return http.StatusBadRequest
	case authority.CodeUnitError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
