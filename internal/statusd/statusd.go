// Package statusd serves the local read-only status API. It exposes what
// the daemon is doing (per-profile state, last decisions, cycle history) to
// the status CLI and anything else on localhost. It never mutates sync state.
package statusd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/opensaves/savesync/internal/client/sync"
	"github.com/opensaves/savesync/internal/version"
)

const DefaultAddr = "127.0.0.1:7626"

// StatusSource is what the daemon exposes to the API.
type StatusSource interface {
	Profiles() []sync.ProfileStatus
	History(profileID string, limit int) ([]sync.CycleEntry, error)
}

type Server struct {
	addr   string
	server *http.Server
	source StatusSource
}

func NewServer(addr string, source StatusSource) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{addr: addr, source: source}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(sloggin.New(slog.Default()))
	r.Use(gin.Recovery())

	r.GET("/", s.handleIndex)

	v1 := r.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/profiles", s.handleProfiles)
		v1.GET("/history", s.handleHistory)
	}
	return r
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("status api start", "addr", fmt.Sprintf("http://%s", s.addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("status api stop")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Version,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	profiles := s.source.Profiles()

	// the daemon is "syncing" if any profile is mid-cycle
	state := "idle"
	for _, p := range profiles {
		if p.State != "idle" {
			state = "syncing"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":  version.Version,
		"state":    state,
		"profiles": len(profiles),
	})
}

func (s *Server) handleProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.source.Profiles()})
}

func (s *Server) handleHistory(c *gin.Context) {
	profileID := c.Query("profile")
	if profileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile query parameter is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := s.source.History(profileID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
