package center

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/auth"
)

type Handler struct {
	dir Directory
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	g := api.Group("/centers", auth.RequireRole("staff", "hospital", "donor"))
	g.GET("", h.ListCenters)
	g.GET("/:id", h.GetCenter)
}

func (h *Handler) ListCenters(c echo.Context) error {
	f := Filter{City: c.QueryParam("city"), VerifiedOnly: c.QueryParam("verified") == "true"}
	items, err := h.dir.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Center{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetCenter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctr, err := h.dir.Get(c.Request().Context(), id)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ctr)
}
