package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benchroom/benchroom/api/rest/bind"
	"github.com/benchroom/benchroom/internal/metrics"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

// New builds the benchroom HTTP handler.
func New(deps *bind.Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	// health
	e.GET("/health", Health)

	// REST
	bind.All(e.Group(""), deps)

	return e
}

// Start serves the API until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, deps *bind.Dependencies) error {
	e := New(deps)

	// metrics
	metrics.Register()
	prometheus.NewPrometheus("benchroom", nil).Use(e)

	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%v", env.Variables().Port)
		log.Info("api listening", "addr", addr)
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown api")
	}

	return nil
}
