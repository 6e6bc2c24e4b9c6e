package blood

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// NotFoundError is returned when an id does not resolve to a record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NotFound(kind string, id fmt.Stringer) error {
	return &NotFoundError{Kind: kind, ID: id.String()}
}

// InvalidTransitionError reports a lifecycle change the state machine forbids.
type InvalidTransitionError struct {
	Kind   string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s cannot move from %s to %s", e.Kind, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InsufficientUnitsError carries the current available count so the caller
// can re-plan.
type InsufficientUnitsError struct {
	UnitID    string
	Available int
	Requested int
}

func (e *InsufficientUnitsError) Error() string {
	return fmt.Sprintf("insufficient units: available %d, requested %d", e.Available, e.Requested)
}

type OverReleaseError struct {
	UnitID    string
	Reserved  int
	Requested int
}

func (e *OverReleaseError) Error() string {
	return fmt.Sprintf("cannot release %d units: only %d reserved", e.Requested, e.Reserved)
}

type OverConsumeError struct {
	UnitID    string
	Reserved  int
	Requested int
}

func (e *OverConsumeError) Error() string {
	return fmt.Sprintf("cannot consume %d units: only %d reserved", e.Requested, e.Reserved)
}

// DonorIneligibleError lists every unmet eligibility criterion.
type DonorIneligibleError struct {
	DonorID string
	Unmet   []string
}

func (e *DonorIneligibleError) Error() string {
	return fmt.Sprintf("donor %s is not eligible: %s", e.DonorID, strings.Join(e.Unmet, ", "))
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// HTTPError maps a domain error onto the response the API returns for it.
func HTTPError(err error) error {
	if err == nil {
		return nil
	}
	var (
		he  *echo.HTTPError
		nf  *NotFoundError
		ve  *ValidationError
		it  *InvalidTransitionError
		ins *InsufficientUnitsError
		orl *OverReleaseError
		oc  *OverConsumeError
		di  *DonorIneligibleError
	)
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.As(err, &it):
		return echo.NewHTTPError(http.StatusConflict, it.Error())
	case errors.As(err, &ins):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   ins.Error(),
			"unit_id":   ins.UnitID,
			"available": ins.Available,
			"requested": ins.Requested,
		})
	case errors.As(err, &orl):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":  orl.Error(),
			"reserved": orl.Reserved,
		})
	case errors.As(err, &oc):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":  oc.Error(),
			"reserved": oc.Reserved,
		})
	case errors.As(err, &di):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": di.Error(),
			"unmet":   di.Unmet,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
