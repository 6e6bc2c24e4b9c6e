package matching

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/domain/center"
	"github.com/bloodbank/bloodbank/pkg/geo"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the unauthenticated search. Auth skipping for the
// path is configured in the auth package.
func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	api.GET("/public/search", h.Search)
}

// publicUnit omits holds and usage history, which name patients.
type publicUnit struct {
	ID            uuid.UUID       `json:"id"`
	BloodGroup    blood.Group     `json:"blood_group"`
	ComponentType blood.Component `json:"component_type"`
	Available     int             `json:"available"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DaysToExpiry  int             `json:"days_to_expiry"`
}

type searchResult struct {
	Center         *center.Center `json:"center"`
	DistanceKm     *float64       `json:"distance_km,omitempty"`
	TotalAvailable int            `json:"total_available"`
	Units          []publicUnit   `json:"units"`
}

type searchResponse struct {
	Results    []searchResult `json:"results"`
	Centers    int            `json:"centers"`
	TotalUnits int            `json:"total_units"`
}

func (h *Handler) Search(c echo.Context) error {
	crit, err := criteriaFromQuery(c)
	if err != nil {
		return blood.HTTPError(err)
	}
	cands, err := h.engine.FindCandidates(c.Request().Context(), crit)
	if err != nil {
		return blood.HTTPError(err)
	}
	now := h.engine.now()
	resp := searchResponse{Results: make([]searchResult, 0, len(cands)), Centers: len(cands)}
	for _, a := range cands {
		r := searchResult{Center: a.Center, DistanceKm: a.DistanceKm, TotalAvailable: a.TotalAvailable,
			Units: make([]publicUnit, 0, len(a.Units))}
		for _, u := range a.Units {
			r.Units = append(r.Units, publicUnit{
				ID:            u.ID,
				BloodGroup:    u.BloodGroup,
				ComponentType: u.ComponentType,
				Available:     u.Available,
				ExpiresAt:     u.ExpiresAt,
				DaysToExpiry:  u.DaysToExpiry(now),
			})
		}
		resp.TotalUnits += a.TotalAvailable
		resp.Results = append(resp.Results, r)
	}
	return c.JSON(http.StatusOK, resp)
}

func criteriaFromQuery(c echo.Context) (Criteria, error) {
	var crit Criteria
	g, err := blood.ParseGroup(c.QueryParam("bloodGroup"))
	if err != nil {
		return crit, err
	}
	crit.BloodGroup = g
	if crit.ComponentType, err = blood.ParseComponent(c.QueryParam("componentType")); err != nil {
		return crit, err
	}
	crit.City = c.QueryParam("city")
	crit.VerifiedOnly = true

	if v := c.QueryParam("minUnits"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return crit, blood.Invalid("minUnits", "must be a positive integer")
		}
		crit.MinQuantity = n
	}
	lat, lng := c.QueryParam("lat"), c.QueryParam("lng")
	if lat != "" || lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		ln, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return crit, blood.Invalid("lat", "and lng must both be numbers")
		}
		crit.Origin = &geo.Point{Lat: la, Lng: ln}
	}
	if v := c.QueryParam("maxDistance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return crit, blood.Invalid("maxDistance", "must be a number of kilometres")
		}
		crit.MaxDistanceKm = d
	}
	crit.AllowPartial, _ = strconv.ParseBool(c.QueryParam("partial"))
	crit.IncludeCompatible, _ = strconv.ParseBool(c.QueryParam("compatible"))
	return crit, nil
}
