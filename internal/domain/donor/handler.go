package donor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	readGroup := api.Group("/donors", auth.RequireRole("staff", "hospital", "donor"))
	readGroup.GET("/:id", h.GetDonor)
	readGroup.GET("/:id/eligibility", h.GetEligibility)

	staffGroup := api.Group("/donors", auth.RequireRole("staff", "donor"))
	staffGroup.POST("", h.RegisterDonor)
	staffGroup.PUT("/:id/availability", h.SetAvailability)

	listGroup := api.Group("/donors", auth.RequireRole("staff", "hospital"))
	listGroup.GET("", h.ListDonors)
}

type registerRequest struct {
	Name        string           `json:"name"`
	Phone       *string          `json:"phone"`
	Email       *string          `json:"email"`
	BloodGroup  string           `json:"blood_group"`
	DateOfBirth *string          `json:"date_of_birth"`
	Age         *int             `json:"age"`
	WeightKg    *decimal.Decimal `json:"weight_kg"`
	Hemoglobin  *decimal.Decimal `json:"hemoglobin"`
	Available   *bool            `json:"available"`
	City        *string          `json:"city"`
}

func (h *Handler) RegisterDonor(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := blood.ParseGroup(req.BloodGroup)
	if err != nil {
		return blood.HTTPError(err)
	}
	d := &Donor{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		BloodGroup: g,
		Age:        req.Age,
		WeightKg:   req.WeightKg,
		Hemoglobin: req.Hemoglobin,
		Available:  true,
		City:       req.City,
	}
	if req.Available != nil {
		d.Available = *req.Available
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
		d.DateOfBirth = &dob
	}
	if err := h.svc.Register(c.Request().Context(), d); err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDonor(c echo.Context) error {
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

func (h *Handler) ListDonors(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("blood_group"); v != "" {
		g, err := blood.ParseGroup(v)
		if err != nil {
			return blood.HTTPError(err)
		}
		f.BloodGroup = g
	}
	f.City = c.QueryParam("city")
	if v := c.QueryParam("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "available must be true or false")
		}
		f.Available = &b
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pg.Respond(items, total))
}

func (h *Handler) GetEligibility(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.svc.Eligibility(c.Request().Context(), id)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Available *bool `json:"available"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Available == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "available is required")
	}
	d, err := h.svc.SetAvailability(c.Request().Context(), id, *req.Available)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}
