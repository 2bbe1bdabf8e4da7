package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/pacing"
	"github.com/BTreeMap/CadencePipe/internal/store"
	"github.com/BTreeMap/CadencePipe/internal/util"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) healthHandler(c *gin.Context) {
	respond(c, http.StatusOK, models.Success(gin.H{"time": time.Now().UTC()}))
}

func (s *Server) enrollHandler(c *gin.Context) {
	var req enrollment.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	actions, err := s.enroller.Enroll(c.Request.Context(), req)
	if err != nil {
		respondError(c, "enrollHandler", err)
		return
	}
	respond(c, http.StatusCreated, models.SuccessWithMessage("Lead enrolled", actions))
}

func (s *Server) listActionsHandler(c *gin.Context) {
	f := store.ActionFilter{
		LeadID:     c.Query("lead_id"),
		CampaignID: c.Query("campaign_id"),
		SequenceID: c.Query("sequence_id"),
		Status:     models.ActionStatus(c.Query("status")),
		Limit:      defaultListLimit,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond(c, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		f.Limit = min(n, maxListLimit)
	}
	if f.Status != "" && !models.IsValidActionStatus(f.Status) {
		respond(c, http.StatusBadRequest, models.Error(fmt.Sprintf("unknown status %q", f.Status)))
		return
	}
	actions, err := s.st.ListActions(f)
	if err != nil {
		respondError(c, "listActionsHandler", err)
		return
	}
	if actions == nil {
		actions = []models.Action{}
	}
	respond(c, http.StatusOK, models.Success(actions))
}

func (s *Server) getActionHandler(c *gin.Context) {
	a, err := s.st.GetAction(c.Param("id"))
	if err != nil {
		respondError(c, "getActionHandler", err)
		return
	}
	if a == nil {
		respondError(c, "getActionHandler", models.ErrActionNotFound)
		return
	}
	respond(c, http.StatusOK, models.Success(a))
}

func (s *Server) actionOutcomesHandler(c *gin.Context) {
	outcomes, err := s.st.ListOutcomes(c.Param("id"))
	if err != nil {
		respondError(c, "actionOutcomesHandler", err)
		return
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	respond(c, http.StatusOK, models.Success(outcomes))
}

func (s *Server) cancelActionHandler(c *gin.Context) {
	s.transition(c, "cancelActionHandler", s.st.CancelAction, "Action cancelled")
}

func (s *Server) pauseActionHandler(c *gin.Context) {
	s.transition(c, "pauseActionHandler", s.st.PauseAction, "Action paused")
}

func (s *Server) transition(c *gin.Context, op string, apply func(id string) error, msg string) {
	id := c.Param("id")
	if err := apply(id); err != nil {
		respondError(c, op, err)
		return
	}
	a, err := s.st.GetAction(id)
	if err != nil {
		respondError(c, op, err)
		return
	}
	respond(c, http.StatusOK, models.SuccessWithMessage(msg, a))
}

// sessionRequest is the body of POST /sessions.
type sessionRequest struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id" validate:"required"`
	CampaignID  string    `json:"campaign_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Server) createSessionHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.LeadID = strings.TrimSpace(req.LeadID)
	if err := util.ValidateStruct(req); err != nil {
		respondError(c, "createSessionHandler", fmt.Errorf("%w: %v", models.ErrInvalidRequest, err))
		return
	}
	if req.ScheduledAt.IsZero() {
		respondError(c, "createSessionHandler", fmt.Errorf("%w: scheduled_at is required", models.ErrInvalidRequest))
		return
	}
	bs := models.BookedSession{
		ID:          req.ID,
		LeadID:      req.LeadID,
		CampaignID:  req.CampaignID,
		ScheduledAt: req.ScheduledAt,
		Status:      models.SessionScheduled,
	}
	if bs.ID == "" {
		bs.ID = util.GenerateSessionID()
	}
	if err := s.st.CreateSession(bs); err != nil {
		respondError(c, "createSessionHandler", err)
		return
	}
	created, err := s.st.GetSession(bs.ID)
	if err != nil {
		respondError(c, "createSessionHandler", err)
		return
	}
	respond(c, http.StatusCreated, models.SuccessWithMessage("Session booked", created))
}

func (s *Server) getSessionHandler(c *gin.Context) {
	bs, err := s.st.GetSession(c.Param("id"))
	if err != nil {
		respondError(c, "getSessionHandler", err)
		return
	}
	if bs == nil {
		respondError(c, "getSessionHandler", models.ErrSessionNotFound)
		return
	}
	respond(c, http.StatusOK, models.Success(bs))
}

func (s *Server) updateSessionStatusHandler(c *gin.Context) {
	var body struct {
		Status models.SessionStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidSessionStatus(body.Status) {
		respond(c, http.StatusBadRequest, models.Error(fmt.Sprintf("unknown session status %q", body.Status)))
		return
	}
	id := c.Param("id")
	if err := s.st.UpdateSessionStatus(id, body.Status); err != nil {
		respondError(c, "updateSessionStatusHandler", err)
		return
	}
	bs, err := s.st.GetSession(id)
	if err != nil {
		respondError(c, "updateSessionStatusHandler", err)
		return
	}
	respond(c, http.StatusOK, models.Success(bs))
}

func (s *Server) listSequencesHandler(c *gin.Context) {
	seqs, err := s.st.ListSequences()
	if err != nil {
		respondError(c, "listSequencesHandler", err)
		return
	}
	if seqs == nil {
		seqs = []models.Sequence{}
	}
	respond(c, http.StatusOK, models.Success(seqs))
}

func (s *Server) leadActivitiesHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond(c, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	acts, err := s.st.ListRecentActivities(c.Param("id"), limit)
	if err != nil {
		respondError(c, "leadActivitiesHandler", err)
		return
	}
	if acts == nil {
		acts = []models.Activity{}
	}
	respond(c, http.StatusOK, models.Success(acts))
}

func (s *Server) getSettingsHandler(c *gin.Context) {
	raw, err := s.st.GetCampaignSettings(c.Param("id"))
	if err != nil {
		respondError(c, "getSettingsHandler", err)
		return
	}
	respond(c, http.StatusOK, models.Success(raw))
}

// putSettingsHandler replaces a campaign's settings. Values that would not parse are rejected
// here instead of silently falling back to defaults at dispatch time.
func (s *Server) putSettingsHandler(c *gin.Context) {
	var raw map[string]string
	if err := c.ShouldBindJSON(&raw); err != nil {
		respond(c, http.StatusBadRequest, models.Error("Invalid JSON format: settings must be a flat object of strings"))
		return
	}
	if _, err := pacing.ParseSettings(raw); err != nil {
		respondError(c, "putSettingsHandler", fmt.Errorf("%w: %v", models.ErrInvalidRequest, err))
		return
	}
	campaignID := c.Param("id")
	if err := s.st.SetCampaignSettings(campaignID, raw); err != nil {
		respondError(c, "putSettingsHandler", err)
		return
	}
	respond(c, http.StatusOK, models.SuccessWithMessage("Settings updated", raw))
}
