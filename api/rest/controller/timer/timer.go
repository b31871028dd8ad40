package timer

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	timers *timer.Registry
	bus    event.Bus
}

func New(timers *timer.Registry, bus event.Bus) *Controller {
	if bus == nil {
		bus = event.Discard
	}
	return &Controller{timers: timers, bus: bus}
}

// StartRequest is the body of /timer/start and /timer/reset. Duration
// is in seconds; zero selects the default for the timer type.
type StartRequest struct {
	InstanceID  string `json:"instanceId"`
	TimerType   string `json:"timerType"`
	Duration    int    `json:"duration"`
	EnableTimer *bool  `json:"enableTimer,omitempty"`
}

type InstanceRequest struct {
	InstanceID string `json:"instanceId"`
}

// MarkResponse answers the interview-started endpoints.
type MarkResponse struct {
	Success               bool   `json:"success"`
	InstanceID            string `json:"instanceId"`
	InterviewStarted      bool   `json:"interviewStarted"`
	FinalInterviewStarted bool   `json:"finalInterviewStarted"`
}

type ListResponse struct {
	Success bool            `json:"success"`
	Timers  []timer.Summary `json:"timers"`
}

func (ctrl *Controller) Start(c echo.Context) error {
	return ctrl.start(c, ctrl.timers.Start)
}

func (ctrl *Controller) Reset(c echo.Context) error {
	return ctrl.start(c, ctrl.timers.Reset)
}

type startFunc func(ctx context.Context, instanceID string, typ timer.Type, d time.Duration) (*timer.Status, error)

func (ctrl *Controller) start(c echo.Context, fn startFunc) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	typ, err := timer.ParseType(req.TimerType)
	if err != nil {
		return respond.Error(err)
	}

	if req.EnableTimer != nil && !*req.EnableTimer {
		return c.JSON(http.StatusOK, ctrl.timers.Status(c.Request().Context(), id))
	}

	st, err := fn(c.Request().Context(), id, typ, time.Duration(req.Duration)*time.Second)
	if err != nil {
		return respond.Error(err)
	}

	ctrl.bus.Publish(event.NewEvent(event.TypeTimerStarted, id, st))

	return c.JSON(http.StatusOK, st)
}

func (ctrl *Controller) Status(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("instanceId"))
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	return c.JSON(http.StatusOK, ctrl.timers.Status(c.Request().Context(), id))
}

func (ctrl *Controller) InterviewStarted(c echo.Context) error {
	return ctrl.mark(c, ctrl.timers.MarkInterviewStarted)
}

func (ctrl *Controller) FinalInterviewStarted(c echo.Context) error {
	return ctrl.mark(c, ctrl.timers.MarkFinalInterviewStarted)
}

type markFunc func(ctx context.Context, instanceID string) (*timer.Status, error)

func (ctrl *Controller) mark(c echo.Context, fn markFunc) error {
	var req InstanceRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	id := strings.TrimSpace(req.InstanceID)
	if id == "" {
		return respond.BadRequest("instanceId is required", nil)
	}

	st, err := fn(c.Request().Context(), id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, MarkResponse{
		Success:               true,
		InstanceID:            st.InstanceID,
		InterviewStarted:      st.InterviewStarted,
		FinalInterviewStarted: st.FinalInterviewStarted,
	})
}

func (ctrl *Controller) List(c echo.Context) error {
	return c.JSON(http.StatusOK, ListResponse{Success: true, Timers: ctrl.timers.List(c.Request().Context())})
}
