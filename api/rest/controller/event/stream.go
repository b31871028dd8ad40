package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	bus       event.Bus
	keepAlive time.Duration
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus, keepAlive: 15 * time.Second}
}

// Stream relays bus events as server-sent events, filtered by the
// optional instance_id and comma separated types query parameters.
func (ctrl *Controller) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	typesStr := c.QueryParam("types")

	filter := event.Filter{InstanceID: strings.TrimSpace(c.QueryParam("instance_id"))}

	if typesStr != "" {
		typeStrings := strings.Split(typesStr, ",")
		for _, t := range typeStrings {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, event.Type(t))
			}
		}
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
		return nil
	}
	c.Response().Flush()

	ticker := time.NewTicker(ctrl.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		case e, ok := <-ch:
			if !ok {
				return nil
			}

			data, err := json.Marshal(e)
			if err != nil {
				log.Error("failed to marshal event for stream", "type", e.Type, "error", err)
				continue
			}

			if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
