package inventory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/auth"
	"github.com/bloodbank/bloodbank/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
	res    *Reservations
}

func NewHandler(ledger *Ledger, res *Reservations) *Handler {
	return &Handler{ledger: ledger, res: res}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	readGroup := api.Group("/inventory", auth.RequireRole("staff", "hospital"))
	readGroup.GET("/units", h.ListUnits)
	readGroup.GET("/units/:id", h.GetUnit)
	readGroup.GET("/alerts", h.Alerts)

	writeGroup := api.Group("/inventory", auth.RequireRole("staff"))
	writeGroup.POST("/units", h.CreateUnit)
	writeGroup.DELETE("/units/:id", h.DeleteUnit)
	writeGroup.PUT("/units/:id/test-results", h.RecordTestResult)
	writeGroup.POST("/units/:id/reserve", h.Reserve)
	writeGroup.POST("/units/:id/release", h.Release)
	writeGroup.POST("/units/:id/consume", h.Consume)

	adminGroup := api.Group("/inventory", auth.RequireRole("admin"))
	adminGroup.POST("/sweep", h.Sweep)
}

// unitView adds the derived expiry fields to a unit.
type unitView struct {
	*BloodUnit
	DaysToExpiry int    `json:"days_to_expiry"`
	ExpiryStatus string `json:"expiry_status"`
}

func (h *Handler) view(u *BloodUnit) unitView {
	now := h.ledger.Now()
	return unitView{BloodUnit: u, DaysToExpiry: u.DaysToExpiry(now), ExpiryStatus: u.ExpiryStatus(now)}
}

func (h *Handler) CreateUnit(c echo.Context) error {
	var in Collection
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.ledger.RecordCollection(c.Request().Context(), in)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, h.view(u))
}

func (h *Handler) GetUnit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.ledger.GetUnit(c.Request().Context(), id)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(u))
}

func (h *Handler) ListUnits(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, total, err := h.ledger.SearchUnits(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]unitView, 0, len(items))
	for _, u := range items {
		views = append(views, h.view(u))
	}
	return c.JSON(http.StatusOK, pg.Respond(views, total))
}

func filterFromQuery(c echo.Context) (UnitFilter, error) {
	var f UnitFilter
	if v := c.QueryParam("center_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, blood.Invalid("center_id", "is not a valid id")
		}
		f.CenterID = &id
	}
	if v := c.QueryParam("blood_group"); v != "" {
		g, err := blood.ParseGroup(v)
		if err != nil {
			return f, err
		}
		f.BloodGroup = g
	}
	if v := c.QueryParam("component_type"); v != "" {
		ct, err := blood.ParseComponent(v)
		if err != nil {
			return f, err
		}
		f.ComponentType = ct
	}
	if v := c.QueryParam("status"); v != "" {
		s, err := ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	return f, nil
}

func (h *Handler) DeleteUnit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.ledger.DeleteUnit(c.Request().Context(), id); err != nil {
		return blood.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type testResultRequest struct {
	Panel               PathogenPanel `json:"pathogen_panel"`
	BloodGroupConfirmed bool          `json:"blood_group_confirmed"`
}

func (h *Handler) RecordTestResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req testResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.ledger.RecordTestResult(c.Request().Context(), id, req.Panel, req.BloodGroupConfirmed)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(u))
}

type counterRequest struct {
	Quantity    int       `json:"quantity"`
	RequestID   uuid.UUID `json:"request_id"`
	PatientName string    `json:"patient_name"`
}

func (h *Handler) Reserve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req counterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RequestID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request_id is required")
	}
	tok, err := h.res.Reserve(c.Request().Context(), id, req.Quantity, req.RequestID)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, tok)
}

func (h *Handler) Release(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req counterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.res.Release(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(u))
}

func (h *Handler) Consume(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req counterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RequestID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request_id is required")
	}
	if req.PatientName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_name is required")
	}
	u, err := h.res.Consume(c.Request().Context(), id, req.Quantity, req.RequestID, req.PatientName,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(u))
}

func (h *Handler) Alerts(c echo.Context) error {
	var centerID *uuid.UUID
	if v := c.QueryParam("center_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
		}
		centerID = &id
	}
	report, err := h.ledger.Alerts(c.Request().Context(), centerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Sweep(c echo.Context) error {
	n, err := h.ledger.SweepExpired(c.Request().Context(), h.ledger.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}
