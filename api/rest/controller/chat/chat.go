package chat

import (
	"net/http"
	"strings"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/internal/history"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type Controller struct {
	session *interview.Session
	history *history.History
}

func New(session *interview.Session, h *history.History) *Controller {
	return &Controller{session: session, history: h}
}

type TurnRequest struct {
	InstanceID string `json:"instanceId"`
	Message    string `json:"message"`
}

// Turn runs one interview turn and returns the interviewer's reply.
func (ctrl *Controller) Turn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	res, err := ctrl.session.Turn(c.Request().Context(), strings.TrimSpace(req.InstanceID), req.Message)
	if err != nil {
		var me *interview.ModelError
		if errors.As(err, &me) {
			log.Error("model turn failed", "instance_id", req.InstanceID, "error", err)
		}
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, res)
}

type HistoryResponse struct {
	Success    bool            `json:"success"`
	InstanceID string          `json:"instanceId"`
	Phase      interview.Phase `json:"phase"`
	History    []history.Entry `json:"history"`
}

func (ctrl *Controller) History(c echo.Context) error {
	ctx := c.Request().Context()

	id := strings.TrimSpace(c.QueryParam("instanceId"))
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		Success:    true,
		InstanceID: id,
		Phase:      ctrl.session.Phase(ctx, id),
		History:    ctrl.history.Get(ctx, id),
	})
}

type MessageRequest struct {
	InstanceID string `json:"instanceId"`
	Message    *struct {
		Role     string                 `json:"role"`
		Content  string                 `json:"content"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	} `json:"message"`
}

// Message appends a message written by the sandbox client. Legacy
// phase markers are accepted and applied as transitions.
func (ctrl *Controller) Message(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}
	if req.Message == nil || req.Message.Role == "" {
		return respond.BadRequest("message with role and content is required", nil)
	}

	entry, err := history.ParseEntry(req.Message.Role, req.Message.Content, req.Message.Metadata)
	if err != nil {
		return respond.Error(err)
	}

	entries, err := ctrl.session.Record(c.Request().Context(), id, entry)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		Success:    true,
		InstanceID: id,
		Phase:      interview.CurrentPhase(entries, interview.PhaseInitial),
		History:    entries,
	})
}
