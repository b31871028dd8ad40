package instance

import (
	"net/http"
	"strconv"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Controller {
	return &Controller{orch: orch}
}

func (ctrl *Controller) List(c echo.Context) error {
	req := &orchestrator.ListRequest{}

	if v := c.QueryParam("test_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return respond.BadRequest("invalid test_id", err)
		}
		req.TestID = uint(id)
	}

	if v := c.QueryParam("candidate_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return respond.BadRequest("invalid candidate_id", err)
		}
		req.CandidateID = uint(id)
	}

	details, err := ctrl.orch.ListWithDetails(c.Request().Context(), req)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, details)
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := orchestrator.ParseID(c.Param("id"))
	if err != nil {
		return respond.Error(err)
	}

	detail, err := ctrl.orch.GetWithDetails(c.Request().Context(), id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, detail)
}

func (ctrl *Controller) Post(c echo.Context) error {
	req := &orchestrator.CreateRequest{}
	if err := c.Bind(req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	inst, err := ctrl.orch.Create(c.Request().Context(), req)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusCreated, inst)
}

type BatchRequest struct {
	Instances []*orchestrator.CreateRequest `json:"instances"`
}

func (ctrl *Controller) Batch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body", err)
	}
	if len(req.Instances) == 0 {
		return respond.BadRequest("instances are required", nil)
	}

	instances, err := ctrl.orch.CreateBatch(c.Request().Context(), req.Instances)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusCreated, instances)
}

// Delete accepts either the numeric instance ID or a container
// reference.
func (ctrl *Controller) Delete(c echo.Context) error {
	res, err := ctrl.orch.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, res)
}
