package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/roundtable"

	"github.com/gin-gonic/gin"
)

// RoundtableHandler serves roundtable session endpoints.
type RoundtableHandler struct {
	coordinator *roundtable.Coordinator
}

// NewRoundtableHandler constructs a RoundtableHandler.
func NewRoundtableHandler(coordinator *roundtable.Coordinator) *RoundtableHandler {
	return &RoundtableHandler{coordinator: coordinator}
}

// createSessionRequest defines the request body for session creation.
type createSessionRequest struct {
	Mode         string   `json:"mode"`
	Topic        string   `json:"topic"`
	MaxTurns     int      `json:"maxTurns"`
	Participants []string `json:"participants"`
}

// Create starts a new roundtable session.
func (h *RoundtableHandler) Create(c *gin.Context) {
	memberID, orgID, ok := orgScope(c)
	if !ok {
		return
	}

	var body createSessionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	participants := make([]roundtable.Participant, 0, len(body.Participants))
	for _, id := range body.Participants {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		participants = append(participants, roundtable.Participant{ProviderID: id})
	}

	session, errCreate := h.coordinator.CreateSession(c.Request.Context(), orgID, &memberID,
		models.RoundtableMode(body.Mode), body.Topic, body.MaxTurns, participants)
	if errCreate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCreate.Error()})
		return
	}
	c.JSON(http.StatusCreated, sessionJSON(session))
}

// Get returns one session.
func (h *RoundtableHandler) Get(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	session, errGet := h.coordinator.GetSession(c.Request.Context(), orgID, c.Param("id"))
	if errGet != nil {
		writeSessionError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, sessionJSON(session))
}

// RunRound runs one full round of provider turns.
func (h *RoundtableHandler) RunRound(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	result, errRun := h.coordinator.RunRound(c.Request.Context(), orgID, c.Param("id"))
	if errRun != nil {
		var denial *budget.ExceededError
		if errors.As(errRun, &denial) && result != nil {
			// The round aborted on a budget denial; report the partial
			// round alongside the denial.
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":    "budget_exceeded",
				"reason":   denial.Reason,
				"turn":     result.Turn,
				"messages": messagesJSON(result.Messages),
			})
			return
		}
		writeSessionError(c, errRun)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"turn":      result.Turn,
		"completed": result.Completed,
		"messages":  messagesJSON(result.Messages),
	})
}

// Pause suspends future rounds.
func (h *RoundtableHandler) Pause(c *gin.Context) {
	h.lifecycle(c, h.coordinator.Pause)
}

// Resume reactivates a paused session.
func (h *RoundtableHandler) Resume(c *gin.Context) {
	h.lifecycle(c, h.coordinator.Resume)
}

// End completes a session.
func (h *RoundtableHandler) End(c *gin.Context) {
	h.lifecycle(c, h.coordinator.End)
}

func (h *RoundtableHandler) lifecycle(c *gin.Context, fn func(ctx context.Context, orgID uint64, publicID string) (*models.RoundtableSession, error)) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	session, errTransition := fn(c.Request.Context(), orgID, c.Param("id"))
	if errTransition != nil {
		writeSessionError(c, errTransition)
		return
	}
	c.JSON(http.StatusOK, sessionJSON(session))
}

// Messages returns the session transcript in sequence order.
func (h *RoundtableHandler) Messages(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	messages, errList := h.coordinator.Messages(c.Request.Context(), orgID, c.Param("id"))
	if errList != nil {
		writeSessionError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messagesJSON(messages)})
}

// postMessageRequest defines the request body for user messages.
type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage appends a user message to the session.
func (h *RoundtableHandler) PostMessage(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	var body postMessageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing content"})
		return
	}
	msg, errPost := h.coordinator.PostUserMessage(c.Request.Context(), orgID, c.Param("id"), body.Content)
	if errPost != nil {
		writeSessionError(c, errPost)
		return
	}
	c.JSON(http.StatusCreated, messageJSON(*msg))
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, roundtable.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, roundtable.ErrSessionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "session already completed"})
	case errors.Is(err, roundtable.ErrSessionPaused):
		c.JSON(http.StatusConflict, gin.H{"error": "session is paused"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roundtable operation failed"})
	}
}

func sessionJSON(session *models.RoundtableSession) gin.H {
	return gin.H{
		"session_id":   session.PublicID,
		"mode":         session.Mode,
		"topic":        session.Topic,
		"state":        session.State,
		"max_turns":    session.MaxTurns,
		"current_turn": session.CurrentTurn,
		"created_at":   session.CreatedAt,
	}
}

func messagesJSON(messages []models.RoundtableMessage) []gin.H {
	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageJSON(msg))
	}
	return out
}

func messageJSON(msg models.RoundtableMessage) gin.H {
	return gin.H{
		"sequence_number": msg.SequenceNumber,
		"sender":          msg.Sender,
		"provider":        msg.ProviderID,
		"content":         msg.Content,
		"turn":            msg.Turn,
		"created_at":      msg.CreatedAt,
	}
}
