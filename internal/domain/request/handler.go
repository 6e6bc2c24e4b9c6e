package request

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/auth"
	"github.com/bloodbank/bloodbank/pkg/pagination"
)

type Handler struct {
	wf *Workflow
}

func NewHandler(wf *Workflow) *Handler {
	return &Handler{wf: wf}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	readGroup := api.Group("/requests", auth.RequireRole("staff", "hospital"))
	readGroup.GET("", h.ListRequests)
	readGroup.GET("/:id", h.GetRequest)
	readGroup.POST("", h.CreateRequest)
	readGroup.PUT("/:id/cancel", h.CancelRequest)

	staffGroup := api.Group("/requests", auth.RequireRole("staff"))
	staffGroup.PUT("/:id/status", h.UpdateStatus)
	staffGroup.POST("/:id/assign-donor", h.AssignDonor)
	staffGroup.POST("/:id/allocate", h.Allocate)
	staffGroup.POST("/:id/transfuse", h.ConfirmTransfusion)

	api.GET("/public/requests/emergency", h.Emergency)
}

type requestView struct {
	*BloodRequest
	Remaining   int    `json:"remaining_units"`
	Outstanding int    `json:"reserved_units"`
	Urgency     string `json:"urgency"`
}

func (h *Handler) view(r *BloodRequest) requestView {
	return requestView{
		BloodRequest: r,
		Remaining:    r.Remaining(),
		Outstanding:  r.Outstanding(),
		Urgency:      r.Urgency(h.wf.Now()),
	}
}

type createRequest struct {
	PatientName   string     `json:"patient_name"`
	PatientAge    *int       `json:"patient_age"`
	PatientGender *string    `json:"patient_gender"`
	HospitalName  string     `json:"hospital_name"`
	HospitalID    *uuid.UUID `json:"hospital_id"`
	City          *string    `json:"city"`
	ContactPhone  *string    `json:"contact_phone"`
	Reason        *string    `json:"reason"`
	BloodGroup    string     `json:"blood_group"`
	ComponentType string     `json:"component_type"`
	RequiredUnits int        `json:"required_units"`
	Priority      string     `json:"priority"`
	NeededBy      *time.Time `json:"needed_by"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var in createRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := blood.ParseGroup(in.BloodGroup)
	if err != nil {
		return blood.HTTPError(err)
	}
	r := &BloodRequest{
		PatientName:   in.PatientName,
		PatientAge:    in.PatientAge,
		PatientGender: in.PatientGender,
		HospitalName:  in.HospitalName,
		HospitalID:    in.HospitalID,
		City:          in.City,
		ContactPhone:  in.ContactPhone,
		Reason:        in.Reason,
		BloodGroup:    g,
		RequiredUnits: in.RequiredUnits,
		Priority:      blood.Priority(in.Priority),
	}
	if in.ComponentType != "" {
		ct, err := blood.ParseComponent(in.ComponentType)
		if err != nil {
			return blood.HTTPError(err)
		}
		r.ComponentType = ct
	}
	if in.NeededBy != nil {
		r.NeededBy = *in.NeededBy
	}
	if err := h.wf.Create(c.Request().Context(), r, actor(c)); err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, h.view(r))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.wf.Get(c.Request().Context(), id)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(r))
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if v := c.QueryParam("status"); v != "" {
		s, err := ParseStatus(v)
		if err != nil {
			return blood.HTTPError(err)
		}
		f.Status = s
	}
	if v := c.QueryParam("priority"); v != "" {
		p := blood.Priority(v)
		if !p.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid priority")
		}
		f.Priority = p
	}
	if v := c.QueryParam("blood_group"); v != "" {
		g, err := blood.ParseGroup(v)
		if err != nil {
			return blood.HTTPError(err)
		}
		f.BloodGroup = g
	}
	f.City = strings.TrimSpace(c.QueryParam("city"))
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		f.HospitalID = &id
	}
	items, total, err := h.wf.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]requestView, 0, len(items))
	for _, r := range items {
		views = append(views, h.view(r))
	}
	return c.JSON(http.StatusOK, pg.Respond(views, total))
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in statusRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(in.Status)
	if err != nil {
		return blood.HTTPError(err)
	}
	r, err := h.wf.UpdateStatus(c.Request().Context(), id, to, actor(c), in.Notes)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(r))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in cancelRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.wf.Cancel(c.Request().Context(), id, actor(c), in.Reason)
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(r))
}

type assignRequest struct {
	DonorID uuid.UUID `json:"donor_id"`
	Units   int       `json:"units"`
}

func (h *Handler) AssignDonor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	in := assignRequest{Units: 1}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.DonorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "donor_id is required")
	}
	r, err := h.wf.AssignDonor(c.Request().Context(), id, in.DonorID, in.Units, actor(c))
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(r))
}

func (h *Handler) Allocate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.wf.AllocateInventory(c.Request().Context(), id, actor(c))
	if err != nil {
		return blood.HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.view(r))
}

func (h *Handler) ConfirmTransfusion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.wf.ConfirmTransfusion(c.Request().Context(), id, actor(c))
	if err != nil && r == nil {
		return blood.HTTPError(err)
	}
	if err != nil {
		return c.JSON(http.StatusMultiStatus, map[string]interface{}{
			"request": h.view(r),
			"error":   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, h.view(r))
}

// emergencyView is the public summary of an open emergency request. Patient
// and contact details are left out.
type emergencyView struct {
	RequestNumber  string          `json:"request_number"`
	HospitalName   string          `json:"hospital_name"`
	City           *string         `json:"city,omitempty"`
	BloodGroup     blood.Group     `json:"blood_group"`
	ComponentType  blood.Component `json:"component_type"`
	RequiredUnits  int             `json:"required_units"`
	RemainingUnits int             `json:"remaining_units"`
	NeededBy       time.Time       `json:"needed_by"`
	Urgency        string          `json:"urgency"`
}

func (h *Handler) Emergency(c echo.Context) error {
	items, err := h.wf.Emergency(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	now := h.wf.Now()
	out := make([]emergencyView, 0, len(items))
	for _, r := range items {
		out = append(out, emergencyView{
			RequestNumber:  r.Number,
			HospitalName:   r.HospitalName,
			City:           r.City,
			BloodGroup:     r.BloodGroup,
			ComponentType:  r.ComponentType,
			RequiredUnits:  r.RequiredUnits,
			RemainingUnits: r.Remaining(),
			NeededBy:       r.NeededBy,
			Urgency:        r.Urgency(now),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": out, "total": len(out)})
}

func actor(c echo.Context) string {
	if id := auth.UserIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	return "anonymous"
}
