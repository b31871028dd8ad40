// Package respond maps domain errors onto HTTP errors.
package respond

import (
	"net/http"

	"github.com/benchroom/benchroom/internal/history"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

var codes = []struct {
	err  error
	code int
}{
	{history.ErrMissingInstanceID, http.StatusBadRequest},
	{history.ErrInvalidRole, http.StatusBadRequest},
	{history.ErrEmptyMarker, http.StatusBadRequest},
	{timer.ErrMissingInstanceID, http.StatusBadRequest},
	{timer.ErrInvalidType, http.StatusBadRequest},
	{interview.ErrEmptyMessage, http.StatusBadRequest},
	{interview.ErrInvalidPhase, http.StatusBadRequest},
	{orchestrator.ErrMissingTestID, http.StatusBadRequest},
	{orchestrator.ErrInvalidInstanceRef, http.StatusBadRequest},
	{orchestrator.ErrInvalidReport, http.StatusBadRequest},
	{orchestrator.ErrTestNotFound, http.StatusNotFound},
	{orchestrator.ErrCandidateNotFound, http.StatusNotFound},
	{orchestrator.ErrInstanceNotFound, http.StatusNotFound},
	{orchestrator.ErrReportNotFound, http.StatusNotFound},
	{orchestrator.ErrInstanceConflict, http.StatusConflict},
	{interview.ErrInvalidTransition, http.StatusConflict},
	{interview.ErrNotInterviewing, http.StatusConflict},
	{interview.ErrNoControlContext, http.StatusConflict},
}

// Error converts err into an *echo.HTTPError. Known sentinels keep
// their message and a failed model call is a 502. Anything else is an
// opaque 500 with err attached as the internal cause.
func Error(err error) error {
	var me *interview.ModelError
	if errors.As(err, &me) {
		return echo.NewHTTPError(http.StatusBadGateway, "interviewer unavailable").SetInternal(err)
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return echo.NewHTTPError(c.code, err.Error()).SetInternal(err)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
}

// BadRequest wraps a binding or validation failure.
func BadRequest(msg string, err error) error {
	he := echo.NewHTTPError(http.StatusBadRequest, msg)
	if err != nil {
		return he.SetInternal(err)
	}
	return he
}
