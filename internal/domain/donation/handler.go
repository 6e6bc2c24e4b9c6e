package donation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/auth"
	"github.com/bloodbank/bloodbank/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	g := api.Group("/donations", auth.RequireRole("staff"))
	g.POST("", h.RecordDonation)
	g.GET("", h.ListDonations)
	g.GET("/:id", h.GetDonation)
}

func (h *Handler) RecordDonation(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.DonationType != "" {
		ct, err := blood.ParseComponent(string(in.DonationType))
		if err != nil {
			return blood.HTTPError(err)
		}
		in.DonationType = ct
	}
	d, err := h.svc.Record(c.Request().Context(), in, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDonation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDonations(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("donor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid donor_id")
		}
		f.DonorID = &id
	}
	if v := c.QueryParam("center_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
		}
		f.CenterID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pg.Respond(items, total))
}
