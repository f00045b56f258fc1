package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// Audit logs one "audit" record per API call once the handler has finished:
// who acted, on which resource and record, with what outcome. It must run
// after authentication and tenant resolution so the caller is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			ctx := req.Context()
			status := c.Response().Status
			if err != nil {
				status = errorStatus(err)
			}
			patient := auth.PatientIDFromContext(ctx)
			if patient == "" {
				patient = c.QueryParam("patient_id")
			}
			rid, _ := c.Get("request_id").(string)
			tenant, _ := c.Get("tenant_id").(string)

			evt := logger.Info()
			if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", rid).
				Str("tenant", tenant).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("resource_type", resourceType(c.Path())).
				Str("resource_id", c.Param("id")).
				Str("patient_id", patient).
				Str("action", auditAction(req.Method, c.Path())).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("audit")

			return err
		}
	}
}

// errorStatus is the status ErrorHandler will answer err with.
func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.HTTPStatus(err)
}

func routeSegments(route string) []string {
	route = strings.Trim(strings.TrimPrefix(route, apiPrefix), "/")
	if route == "" {
		return nil
	}
	return strings.Split(route, "/")
}

// resourceType is the first segment of the route:
// /api/v1/invoices/:id/void -> invoices.
func resourceType(route string) string {
	if segs := routeSegments(route); len(segs) > 0 {
		return segs[0]
	}
	return "unknown"
}

// auditAction names what a request did. POSTs to a record's sub-path are
// named after it (void, cancel, discharge, refunds, ...).
func auditAction(method, route string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		segs := routeSegments(route)
		if len(segs) >= 3 && strings.HasPrefix(segs[1], ":") {
			return segs[len(segs)-1]
		}
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
