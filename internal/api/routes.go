package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/units"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HeaderCaller names the principal a request acts for. It is not authenticated.
const HeaderCaller = "X-Spawn-Caller"

var errBadRequest = errors.New("api: bad request")

type createUnitRequest struct {
	Cycles   units.Cycles   `json:"cycles"`
	Settings units.Settings `json:"settings"`
}

type installRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.Name,
			"version": "0.1.0",
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Started).String(),
			"service": s.Name,
			"version": "0.1.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/units", s.handleCreateUnit)
	r.GET("/units", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"units": s.prov.ListUnits()})
	})
	r.GET("/units/:id/state", s.handleLookup)
	r.POST("/units/:id/install", s.handleInstall)
	r.PUT("/units/:id/settings", s.handleSettings)
	r.POST("/signup", s.handleSignup)

	r.GET("/balance", s.handleBalance)
	r.GET("/balance128", s.handleBalance128)
	r.GET("/ticks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ticks": s.wallet.Ticks()})
	})

	r.GET("/flows", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"flows":   s.prov.Flows(),
			"orphans": s.prov.Orphans(),
		})
	})
	r.GET("/flows/:id", func(c *gin.Context) {
		flow, ok := s.prov.Flow(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
			return
		}
		c.JSON(http.StatusOK, flow)
	})
}

func callerOf(c *gin.Context) units.Principal {
	caller := strings.TrimSpace(c.GetHeader(HeaderCaller))
	if caller == "" {
		return units.AnonymousPrincipal
	}
	return units.Principal(caller)
}

func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) handleCreateUnit(c *gin.Context) {
	var req createUnitRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := s.prov.CreateUnit(c.Request.Context(), s.prov.CallerContext(callerOf(c)), req.Cycles, req.Settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit_id": id})
}

func (s *Server) handleSignup(c *gin.Context) {
	var state units.AppState
	if !bindJSON(c, &state) {
		return
	}
	id, err := s.prov.Signup(c.Request.Context(), s.prov.CallerContext(callerOf(c)), state)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit_id": id})
}

func (s *Server) handleLookup(c *gin.Context) {
	state, err := s.prov.Lookup(c.Request.Context(), units.UnitID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleInstall(c *gin.Context) {
	var req installRequest
	if !bindJSON(c, &req) {
		return
	}
	mode, err := units.ParseInstallMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	unit := units.UnitID(c.Param("id"))
	if err := s.prov.Reinstall(c.Request.Context(), s.prov.CallerContext(callerOf(c)), unit, mode); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "unit_id": unit, "mode": mode})
}

func (s *Server) handleSettings(c *gin.Context) {
	var settings units.Settings
	if !bindJSON(c, &settings) {
		return
	}
	unit := units.UnitID(c.Param("id"))
	if err := s.prov.UpdateSettings(c.Request.Context(), unit, settings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "unit_id": unit})
}

func (s *Server) handleBalance(c *gin.Context) {
	amount, err := s.wallet.Balance64(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (s *Server) handleBalance128(c *gin.Context) {
	amount, err := s.wallet.Balance128(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}
