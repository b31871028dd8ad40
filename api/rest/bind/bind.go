package bind

import (
	"github.com/benchroom/benchroom/api/rest/controller/catalog"
	"github.com/benchroom/benchroom/api/rest/controller/chat"
	eventctrl "github.com/benchroom/benchroom/api/rest/controller/event"
	"github.com/benchroom/benchroom/api/rest/controller/instance"
	"github.com/benchroom/benchroom/api/rest/controller/interview"
	timerctrl "github.com/benchroom/benchroom/api/rest/controller/timer"
	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/history"
	iv "github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Dependencies are the services exposed over REST.
type Dependencies struct {
	DB           *gorm.DB
	Timers       *timer.Registry
	History      *history.History
	Session      *iv.Session
	Orchestrator *orchestrator.Orchestrator
	Bus          event.Bus
}

func All(g *echo.Group, deps *Dependencies) {
	Timer(g.Group("/timer"), deps)
	Chat(g.Group("/chat"), deps)
	Interview(g.Group("/interview"), deps)
	Instances(g.Group("/instances"), deps)
	Catalog(g, deps)
	Events(g, deps)
}

func Timer(g *echo.Group, deps *Dependencies) {
	ctrl := timerctrl.New(deps.Timers, deps.Bus)

	g.POST("/start", ctrl.Start)
	g.POST("/reset", ctrl.Reset)
	g.GET("/status", ctrl.Status)
	g.POST("/interview-started", ctrl.InterviewStarted)
	g.POST("/final-interview-started", ctrl.FinalInterviewStarted)
	g.GET("/list", ctrl.List)
}

func Chat(g *echo.Group, deps *Dependencies) {
	ctrl := chat.New(deps.Session, deps.History)

	g.POST("", ctrl.Turn)
	g.GET("/history", ctrl.History)
	g.POST("/message", ctrl.Message)
}

func Interview(g *echo.Group, deps *Dependencies) {
	ctrl := interview.New(deps.Session)

	g.GET("/context", ctrl.Context)
	g.POST("/final", ctrl.Final)
}

func Instances(g *echo.Group, deps *Dependencies) {
	ctrl := instance.New(deps.Orchestrator)
	reports := instance.NewReport(deps.Orchestrator, deps.Session)

	g.GET("", ctrl.List)
	g.POST("", ctrl.Post)
	g.POST("/batch", ctrl.Batch)
	g.GET("/:id", ctrl.Get)
	g.DELETE("/:id", ctrl.Delete)
	g.GET("/:id/report", reports.Get)
	g.POST("/:id/report", reports.Post)
}

func Catalog(g *echo.Group, deps *Dependencies) {
	ctrl := catalog.New(deps.DB)

	g.POST("/tests/apply", ctrl.Apply)
	g.GET("/tests", ctrl.Tests)
	g.GET("/candidates", ctrl.Candidates)
}

func Events(g *echo.Group, deps *Dependencies) {
	g.GET("/events", eventctrl.New(deps.Bus).Stream)
}
