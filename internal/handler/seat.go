package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// maxBulkRows bounds a single bulk request body.
const maxBulkRows = 10000

// GrantSeat handles POST /v1/pools/:id/seats.  A member who already holds
// the seat gets 200 with the existing assignment id instead of an error.
func (h *SeatPoolHandler) GrantSeat(c echo.Context) error {
	poolID, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body model.SeatRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := h.Engine.Grant(c.Request().Context(), poolID, body.MemberID, body.CourseID)
	var dup *engine.DuplicateError
	switch {
	case errors.As(err, &dup):
		return c.JSON(http.StatusOK, echo.Map{"assignment_id": dup.AssignmentID, "duplicate": true})
	case err != nil:
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"assignment_id": id, "duplicate": false})
}

// ReleaseSeat handles DELETE /v1/assignments/:id.  The optional reason
// query parameter defaults to manual.
func (h *SeatPoolHandler) ReleaseSeat(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	reason := model.ReleaseReason(strings.TrimSpace(c.QueryParam("reason")))
	if reason == "" {
		reason = model.ReleaseManual
	}
	ctx := c.Request().Context()
	if err := h.Engine.Release(ctx, id, reason); err != nil {
		return h.respondError(c, err)
	}
	a, err := h.Engine.Assignment(ctx, id)
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, a)
}

// BulkGrant handles POST /v1/pools/:id/seats/bulk.  The body is
// {"seats": [{"member_id": ..., "course_id": ...}, ...]}.  Rows are
// applied independently; the response is 200 even when some rows fail.
func (h *SeatPoolHandler) BulkGrant(c echo.Context) error {
	poolID, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body struct {
		Seats []model.SeatRequest `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.Seats) == 0 {
		return badRequest(c, "seats is required")
	}
	if len(body.Seats) > maxBulkRows {
		return badRequest(c, "too many seats in one request")
	}
	ctx := c.Request().Context()
	// An unknown pool fails every row the same way; report it once.
	if _, err := h.Engine.Get(ctx, poolID); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.Engine.BulkGrant(ctx, poolID, body.Seats))
}

// ListAssignments handles GET /v1/pools/:id/assignments with optional
// member_id, course_id and status filters.
func (h *SeatPoolHandler) ListAssignments(c echo.Context) error {
	poolID, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := h.Engine.Get(ctx, poolID); err != nil {
		return h.respondError(c, err)
	}
	limit, offset := page(c)
	f := model.AssignmentFilter{
		PoolID:   poolID,
		MemberID: strings.TrimSpace(c.QueryParam("member_id")),
		CourseID: strings.TrimSpace(c.QueryParam("course_id")),
		Status:   model.AssignmentStatus(strings.TrimSpace(c.QueryParam("status"))),
		Limit:    limit,
		Offset:   offset,
	}
	switch f.Status {
	case "", model.AssignmentActive, model.AssignmentReleased, model.AssignmentExpired:
	default:
		return badRequest(c, "unknown status "+string(f.Status))
	}
	rows, err := h.Engine.ListAssignments(ctx, f)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":   rows,
		"limit":  limit,
		"offset": offset,
	})
}
