// Package api exposes the engine's HTTP surface: enrollment, booked sessions, campaign settings
// and operator actions on scheduled sends.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Store is the persistence the API reads and writes.
type Store interface {
	GetAction(id string) (*models.Action, error)
	ListActions(f store.ActionFilter) ([]models.Action, error)
	CancelAction(id string) error
	PauseAction(id string) error
	ListSequences() ([]models.Sequence, error)
	CreateSession(s models.BookedSession) error
	GetSession(id string) (*models.BookedSession, error)
	UpdateSessionStatus(id string, status models.SessionStatus) error
	GetCampaignSettings(campaignID string) (map[string]string, error)
	SetCampaignSettings(campaignID string, settings map[string]string) error
	ListRecentActivities(leadID string, limit int) ([]models.Activity, error)
	ListOutcomes(actionID string) ([]models.Outcome, error)
}

// Server holds the handler dependencies.
type Server struct {
	st       Store
	enroller enrollment.Enroller
	logger   *slog.Logger
}

// NewServer creates an API server.
func NewServer(st Store, enroller enrollment.Enroller) *Server {
	return &Server{st: st, enroller: enroller, logger: slog.Default()}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.healthHandler)

	r.POST("/enrollments", s.enrollHandler)

	actions := r.Group("/actions")
	{
		actions.GET("", s.listActionsHandler)
		actions.GET("/:id", s.getActionHandler)
		actions.GET("/:id/outcomes", s.actionOutcomesHandler)
		actions.POST("/:id/cancel", s.cancelActionHandler)
		actions.POST("/:id/pause", s.pauseActionHandler)
	}

	sessions := r.Group("/sessions")
	{
		sessions.POST("", s.createSessionHandler)
		sessions.GET("/:id", s.getSessionHandler)
		sessions.PUT("/:id/status", s.updateSessionStatusHandler)
	}

	r.GET("/sequences", s.listSequencesHandler)
	r.GET("/leads/:id/activities", s.leadActivitiesHandler)

	campaigns := r.Group("/campaigns/:id")
	{
		campaigns.GET("/settings", s.getSettingsHandler)
		campaigns.PUT("/settings", s.putSettingsHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound, models.Error("Route not found"))
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Server.ListenAndServe: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
