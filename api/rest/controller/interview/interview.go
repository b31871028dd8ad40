package interview

import (
	"net/http"
	"strings"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	session *interview.Session
}

func New(session *interview.Session) *Controller {
	return &Controller{session: session}
}

type ContextResponse struct {
	Success bool               `json:"success"`
	Context *interview.Context `json:"context"`
}

// Context previews the control directive for the current phase.
func (ctrl *Controller) Context(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("instanceId"))
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	ic, err := ctrl.session.Preview(c.Request().Context(), id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, ContextResponse{Success: true, Context: ic})
}

type FinalRequest struct {
	InstanceID string `json:"instanceId"`
}

type FinalResponse struct {
	Success bool            `json:"success"`
	Phase   interview.Phase `json:"phase"`
	Timer   *timer.Status   `json:"timer"`
}

// Final opens the final interview for an instance in the project phase.
func (ctrl *Controller) Final(c echo.Context) error {
	var req FinalRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	st, err := ctrl.session.StartFinal(c.Request().Context(), id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, FinalResponse{Success: true, Phase: interview.PhaseFinal, Timer: st})
}
