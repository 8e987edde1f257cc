package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/training-seat-pools/internal/engine"
)

// statusFor maps an engine error code to the HTTP status returned to the
// caller.
func statusFor(code string) int {
	switch code {
	case "pool_exhausted", "pool_not_active", "capacity_below_usage",
		"pool_has_active_assignments", "scope_locked", "assignment_not_active", "conflict":
		return http.StatusConflict
	case "out_of_scope":
		return http.StatusUnprocessableEntity
	case "duplicate_assignment":
		return http.StatusOK
	case "pool_not_found", "assignment_not_found":
		return http.StatusNotFound
	case "invalid_request", "unknown_reference":
		return http.StatusBadRequest
	case "canceled":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err.  Internal failures are
// logged and their message hidden from the client.
func (h *SeatPoolHandler) respondError(c echo.Context, err error) error {
	code := engine.Code(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logError(c, err)
		msg = "internal error"
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}

// pathID parses the :id path parameter.
func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// page reads limit/offset query parameters, clamping the limit to
// [1, 500] with a default of 100.
func page(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
