package instance

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// maxReportSize bounds the workspace snapshot a sandbox may submit.
const maxReportSize = 32 << 20

// ReportController serves instance reports. A stored report closes
// the final interview.
type ReportController struct {
	orch    *orchestrator.Orchestrator
	session *interview.Session
}

func NewReport(orch *orchestrator.Orchestrator, session *interview.Session) *ReportController {
	return &ReportController{orch: orch, session: session}
}

type ReportResponse struct {
	Report *models.Report  `json:"report"`
	Phase  interview.Phase `json:"phase"`
}

func (ctrl *ReportController) Get(c echo.Context) error {
	id, err := orchestrator.ParseID(c.Param("id"))
	if err != nil {
		return respond.Error(err)
	}

	report, err := ctrl.orch.GetReport(c.Request().Context(), id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, ReportResponse{
		Report: report,
		Phase:  ctrl.session.Phase(c.Request().Context(), report.InstanceKey()),
	})
}

func (ctrl *ReportController) Post(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := orchestrator.ParseID(c.Param("id"))
	if err != nil {
		return respond.Error(err)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxReportSize))
	if err != nil {
		return respond.BadRequest("failed to read report", err)
	}

	report, err := ctrl.orch.SaveReport(ctx, id, json.RawMessage(body))
	if err != nil {
		return respond.Error(err)
	}

	key := report.InstanceKey()
	if err := ctrl.session.Complete(ctx, key); err != nil {
		if !errors.Is(err, interview.ErrInvalidTransition) {
			return respond.Error(err)
		}
		log.Warn("report saved outside the final interview", "instance_id", key, "phase", ctrl.session.Phase(ctx, key))
	}

	return c.JSON(http.StatusOK, ReportResponse{Report: report, Phase: ctrl.session.Phase(ctx, key)})
}
