package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/platform/auth"
)

// AuditEntry records who changed which stock, donor or request record.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string // units, requests, donors, donations, ...
	ResourceID string
	Action     string // create, update, delete, or a sub-action such as reserve
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. When none is given the middleware
// only logs.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing call under /api/v1. Reads are not audited;
// they are already in the request log.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.UserID = auth.UserIDFromContext(req.Context())
			entry.UserRoles = auth.RolesFromContext(req.Context())
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Resource, entry.ResourceID, entry.Action = describe(req.Method, req.URL.Path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("stock_change")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// describe splits an /api/v1 path into resource, id and action.
//
//	POST /api/v1/inventory/units/<id>/reserve -> units, <id>, reserve
//	PUT  /api/v1/requests/<id>/cancel         -> requests, <id>, cancel
//	POST /api/v1/donations                    -> donations, "", create
func describe(method, path string) (resource, id, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) > 0 && segments[0] == "inventory" && len(segments) > 1 {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", "", methodAction(method)
	}
	resource = segments[0]
	action = methodAction(method)
	for i, s := range segments[1:] {
		if _, err := uuid.Parse(s); err == nil {
			id = s
			if rest := segments[i+2:]; len(rest) > 0 {
				action = rest[len(rest)-1]
			}
			return resource, id, action
		}
	}
	if len(segments) > 1 {
		action = segments[len(segments)-1]
	}
	return resource, id, action
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
