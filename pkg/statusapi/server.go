// Package statusapi exposes a read-only introspection surface over a
// set of tracked engine sessions. It never touches the wire protocol
// itself (the engine can run with no HTTP server attached at all),
// so it cannot violate the frame parser's no-I/O invariant.
package statusapi

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperbloom/engine/pkg/session"
)

// SessionView is a stable, read-only snapshot of one tracked session,
// safe to marshal and hand to a caller without exposing the *Session
// itself.
type SessionView struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Secure      bool   `json:"secure"`
	RemoteID    string `json:"remoteId,omitempty"`
	ChainLength int    `json:"chainLength"`
}

// Registry tracks the sessions a Server reports on. Callers add a
// session when it's created and remove it when it's destroyed; the
// Server itself never mutates the registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Track adds or replaces the session tracked under name.
func (r *Registry) Track(name string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[name] = s
}

// Untrack removes name from the registry, typically called from the
// session's OnClose callback.
func (r *Registry) Untrack(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

func (r *Registry) snapshot() []SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]SessionView, 0, len(r.sessions))
	for name, s := range r.sessions {
		view := SessionView{
			Name:        name,
			State:       s.State().String(),
			Secure:      s.Secure(),
			ChainLength: len(s.Chain()),
		}
		if id := s.RemoteID(); id != nil {
			view.RemoteID = hex.EncodeToString(id)
		}
		views = append(views, view)
	}
	return views
}

// Server is a small gin-based HTTP surface reporting the state of
// every session in a Registry.
type Server struct {
	registry   *Registry
	router     *gin.Engine
	port       int
	httpServer *http.Server
}

// Config holds Server configuration.
type Config struct {
	Port int
}

// DefaultConfig returns default Server configuration.
func DefaultConfig() *Config {
	return &Config{Port: 8088}
}

// NewServer builds a Server reporting on registry.
func NewServer(registry *Registry, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	s := &Server{registry: registry, router: router, port: config.Port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/sessions", s.handleSessions)
	}
	s.router.GET("/sessions", s.handleSessions)
	s.router.GET("/health", s.handleHealth)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.snapshot()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
