package catalog

import (
	"net/http"

	"github.com/benchroom/benchroom/api/rest/respond"
	"github.com/benchroom/benchroom/api/rest/service/catalog"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Controller struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Controller {
	return &Controller{db: db}
}

// Apply upserts the tests and candidates of a manifest.
func (ctrl *Controller) Apply(c echo.Context) error {
	var m catalog.Manifest
	if err := c.Bind(&m); err != nil {
		return respond.BadRequest("invalid request body", err)
	}

	res, err := ctrl.service(c).Apply(&m)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidManifest) {
			return respond.BadRequest(err.Error(), err)
		}
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, res)
}

func (ctrl *Controller) Tests(c echo.Context) error {
	tests, err := ctrl.service(c).ListTests()
	if err != nil {
		return respond.Error(err)
	}
	return c.JSON(http.StatusOK, tests)
}

func (ctrl *Controller) Candidates(c echo.Context) error {
	candidates, err := ctrl.service(c).ListCandidates()
	if err != nil {
		return respond.Error(err)
	}
	return c.JSON(http.StatusOK, candidates)
}

func (ctrl *Controller) service(c echo.Context) catalog.Catalog {
	return catalog.Service(c.Request().Context()).WithDatabase(ctrl.db)
}
