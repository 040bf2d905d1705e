package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/flightops/internal/authority"
	"github.com/fentz26/flightops/internal/store"
	"github.com/fentz26/flightops/internal/trajectory"
	"github.com/labstack/echo/v4"
)

// ErrValidation indicates a malformed request.
var ErrValidation = errors.New("invalid request")

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, authority.ErrValidation),
		errors.Is(err, store.ErrTooManyIDs):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrReservationConflict),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, trajectory.ErrNoWaypoints):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// toHTTPError wraps a service error for echo.
func toHTTPError(err error) *echo.HTTPError {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}

// problemHandler renders every error as problem+json.
func (s *Server) problemHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	he, ok := err.(*echo.HTTPError)
	if !ok {
		he = toHTTPError(err)
	}

	detail := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok {
		detail = m
	}
	if he.Code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}

	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(he.Code),
		Status:   he.Code,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		c.NoContent(he.Code)
		return
	}
	c.JSON(he.Code, problem)
}
