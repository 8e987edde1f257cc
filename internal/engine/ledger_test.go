package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

func TestGrantExhaustsPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(3)
	id := f.createPool(t, 2, false)

	_, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)
	_, err = f.eng.Grant(ctx, id, m[1], "course-a")
	require.NoError(t, err)
	_, err = f.eng.Grant(ctx, id, m[2], "course-a")
	require.ErrorIs(t, err, engine.ErrPoolExhausted)

	p := f.pool(t, id)
	assert.Equal(t, 2, p.Used)
	assert.Len(t, f.sink.ofType(model.EventGranted), 2)
	assert.Equal(t, []string{"member-1/course-a", "member-2/course-a"}, f.enroller.enrolled)
}

func TestGrantReclaimsReplaceableSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(2)
	id := f.createPool(t, 1, true)

	first, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)
	require.NoError(t, f.eng.Release(ctx, first, model.ReleaseManual))
	assert.Equal(t, 0, f.pool(t, id).Used)

	_, err = f.eng.Grant(ctx, id, m[1], "course-a")
	require.NoError(t, err)
	assert.Equal(t, 1, f.pool(t, id).Used)
	assert.Equal(t, []string{"member-1/course-a"}, f.enroller.unenrolls())
}

func TestReleaseBurnsSeatWithoutReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(2)
	id := f.createPool(t, 1, false)

	a, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)
	require.NoError(t, f.eng.Release(ctx, a, model.ReleaseMemberRemoved))
	assert.Equal(t, 1, f.pool(t, id).Used)

	_, err = f.eng.Grant(ctx, id, m[1], "course-a")
	assert.ErrorIs(t, err, engine.ErrPoolExhausted)

	released := f.sink.ofType(model.EventReleased)
	require.Len(t, released, 1)
	var payload model.SeatPayload
	require.NoError(t, json.Unmarshal(released[0].Payload, &payload))
	assert.Equal(t, model.ReleaseMemberRemoved, payload.Reason)
	assert.True(t, payload.Burned)
}

func TestReleaseErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(1)
	id := f.createPool(t, 1, true)
	a, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)

	assert.ErrorIs(t, f.eng.Release(ctx, a, "lost"), engine.ErrInvalidReason)
	assert.ErrorIs(t, f.eng.Release(ctx, 9999, model.ReleaseManual), engine.ErrAssignmentNotFound)
	require.NoError(t, f.eng.Release(ctx, a, model.ReleaseCourseUnenrolled))
	assert.ErrorIs(t, f.eng.Release(ctx, a, model.ReleaseManual), engine.ErrAssignmentNotActive)
	assert.Equal(t, 0, f.pool(t, id).Used)
}

func TestGrantDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(1)
	id := f.createPool(t, 5, false)

	first, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)
	_, err = f.eng.Grant(ctx, id, m[0], "course-a")
	require.ErrorIs(t, err, engine.ErrDuplicateAssignment)
	var dup *engine.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first, dup.AssignmentID)
	assert.Equal(t, 1, f.pool(t, id).Used)

	// A different course is a different seat.
	_, err = f.eng.Grant(ctx, id, m[0], "course-b")
	require.NoError(t, err)
	assert.Equal(t, 2, f.pool(t, id).Used)
}

func TestGrantSeparatorIDsAreDistinctSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.addMember("m:b")
	f.dir.addMember("m")
	f.dir.mu.Lock()
	f.dir.courses["c"] = testOrg
	f.dir.courses["b:c"] = testOrg
	f.dir.mu.Unlock()
	id := f.createPool(t, 5, false)

	first, err := f.eng.Grant(ctx, id, "m:b", "c")
	require.NoError(t, err)
	second, err := f.eng.Grant(ctx, id, "m", "b:c")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, f.pool(t, id).Used)
	assert.Equal(t, []string{"m:b/c", "m/b:c"}, f.enroller.enrolled)
}

func TestGrantOutOfScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.members(1)
	f.dir.addMember("member-team", testTeam)

	teamPool := f.createPool(t, 5, false, func(s *model.PoolSpec) {
		s.Scope = model.Scope{TeamID: ptr(testTeam)}
	})
	coursePool := f.createPool(t, 5, false, func(s *model.PoolSpec) {
		s.Scope = model.Scope{Courses: model.CourseList{"course-b"}}
	})

	_, err := f.eng.Grant(ctx, teamPool, "member-1", "course-a")
	assert.ErrorIs(t, err, engine.ErrOutOfScope, "not a team member")
	_, err = f.eng.Grant(ctx, teamPool, "stranger", "course-a")
	assert.ErrorIs(t, err, engine.ErrOutOfScope, "not an org member")
	_, err = f.eng.Grant(ctx, coursePool, "member-1", "course-a")
	assert.ErrorIs(t, err, engine.ErrOutOfScope, "course not listed")

	_, err = f.eng.Grant(ctx, teamPool, "member-team", "course-a")
	require.NoError(t, err)

	// Membership is read on every call.
	f.dir.removeFromTeam("member-team", testTeam)
	_, err = f.eng.Grant(ctx, teamPool, "member-team", "course-b")
	assert.ErrorIs(t, err, engine.ErrOutOfScope)
}

func TestGrantInvalidRequest(t *testing.T) {
	f := newFixture(t)
	id := f.createPool(t, 1, false)
	_, err := f.eng.Grant(context.Background(), id, " ", "course-a")
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
	_, err = f.eng.Grant(context.Background(), 4242, "member-1", "course-a")
	assert.ErrorIs(t, err, engine.ErrPoolNotFound)
}

func TestGrantEnrollmentFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(1)
	id := f.createPool(t, 1, false)
	f.enroller.failOn["course-a"] = true

	_, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.Error(t, err)
	assert.Equal(t, "internal", engine.Code(err))
	assert.Equal(t, 0, f.pool(t, id).Used)
	assert.Equal(t, 0, f.countActive(t, id))
	assert.Empty(t, f.sink.ofType(model.EventGranted))

	events, err := f.eng.Events(ctx, model.EventFilter{PoolID: id})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGrantDraftPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(1)
	id := f.createPool(t, 1, false, func(s *model.PoolSpec) {
		s.ValidFrom = ptr(epoch.Add(24 * time.Hour))
	})
	assert.Equal(t, model.PoolDraft, f.pool(t, id).State)

	_, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.ErrorIs(t, err, engine.ErrPoolNotActive)

	// The first grant after the window opens activates the pool.
	f.clock.Advance(25 * time.Hour)
	_, err = f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)
	assert.Equal(t, model.PoolActive, f.pool(t, id).State)
}

func TestGrantOnLapsedPoolExpiresIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.members(2)
	id := f.createPool(t, 5, false, func(s *model.PoolSpec) {
		s.ValidUntil = ptr(epoch.Add(time.Hour))
	})
	_, err := f.eng.Grant(ctx, id, m[0], "course-a")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.eng.Grant(ctx, id, m[1], "course-a")
	require.ErrorIs(t, err, engine.ErrPoolNotActive)

	p := f.pool(t, id)
	assert.Equal(t, model.PoolExpired, p.State)
	assert.Equal(t, 0, p.Used)
	assert.Equal(t, 0, f.countActive(t, id))
	assert.Len(t, seatEvents(f.sink.ofType(model.EventExpired)), 1)
	assert.Len(t, f.sink.ofType(model.EventExpired), 2)
}

func TestBulkGrantPartialSuccess(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.EngineConfig) { c.BatchSize = 2 }))
	m := f.members(5)
	id := f.createPool(t, 3, false)

	reqs := make([]model.SeatRequest, 0, len(m))
	for _, member := range m {
		reqs = append(reqs, model.SeatRequest{MemberID: member, CourseID: "course-a"})
	}
	res := f.eng.BulkGrant(context.Background(), id, reqs)

	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Granted)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Rows, 5)
	for i, row := range res.Rows {
		assert.Equal(t, i, row.Index)
		if i < 3 {
			assert.True(t, row.OK())
			assert.NotZero(t, row.AssignmentID)
			continue
		}
		assert.False(t, row.OK())
		assert.ErrorIs(t, row.Err(), engine.ErrPoolExhausted)
		assert.Equal(t, "pool_exhausted", row.Code)
	}
	assert.Equal(t, 3, f.pool(t, id).Used)
	assert.Equal(t, []engine.BulkChunk{
		{From: 0, To: 2, Granted: 2},
		{From: 2, To: 4, Granted: 1, Failed: 1},
		{From: 4, To: 5, Failed: 1},
	}, res.Chunks)
}

func TestBulkGrantReportsDuplicatesAndCancellation(t *testing.T) {
	f := newFixture(t)
	m := f.members(2)
	id := f.createPool(t, 10, false)
	existing, err := f.eng.Grant(context.Background(), id, m[0], "course-a")
	require.NoError(t, err)

	res := f.eng.BulkGrant(context.Background(), id, []model.SeatRequest{
		{MemberID: m[0], CourseID: "course-a"},
		{MemberID: m[1], CourseID: "course-a"},
	})
	assert.Equal(t, 1, res.Granted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, existing, res.Rows[0].AssignmentID)
	assert.Equal(t, "duplicate_assignment", res.Rows[0].Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = f.eng.BulkGrant(ctx, id, []model.SeatRequest{{MemberID: m[1], CourseID: "course-b"}})
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Rows[0].Err(), context.Canceled)
	require.Len(t, res.Chunks, 1)
	assert.True(t, res.Chunks[0].Skipped)
}

// cancelOnEnroll cancels a context once the given number of enrollments
// has happened.
type cancelOnEnroll struct {
	*recordingEnroller
	after  int
	cancel context.CancelFunc
}

func (c *cancelOnEnroll) Enroll(ctx context.Context, member, course string) error {
	err := c.recordingEnroller.Enroll(ctx, member, course)
	c.mu.Lock()
	n := len(c.enrolled)
	c.mu.Unlock()
	if n == c.after {
		c.cancel()
	}
	return err
}

func TestBulkGrantFinishesStartedChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var enroller *cancelOnEnroll
	f := newFixture(t,
		withConfig(func(c *config.EngineConfig) { c.BatchSize = 3 }),
		func(o *engine.Options) {
			enroller = &cancelOnEnroll{recordingEnroller: &recordingEnroller{failOn: map[string]bool{}}, after: 1, cancel: cancel}
			o.Enroller = enroller
		})
	m := f.members(5)
	id := f.createPool(t, 10, false)

	reqs := make([]model.SeatRequest, 0, len(m))
	for _, member := range m {
		reqs = append(reqs, model.SeatRequest{MemberID: member, CourseID: "course-a"})
	}
	res := f.eng.BulkGrant(ctx, id, reqs)

	assert.Equal(t, 3, res.Granted)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []engine.BulkChunk{
		{From: 0, To: 3, Granted: 3},
		{From: 3, To: 5, Failed: 2, Skipped: true},
	}, res.Chunks)
	for _, row := range res.Rows[3:] {
		assert.ErrorIs(t, row.Err(), context.Canceled)
	}
	assert.Equal(t, 3, f.pool(t, id).Used)
}

func TestConcurrentGrantsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	const capacity, callers = 5, 20
	m := f.members(callers)
	id := f.createPool(t, capacity, false)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   int
		exhausted int
	)
	for _, member := range m {
		wg.Add(1)
		go func(member string) {
			defer wg.Done()
			_, err := f.eng.Grant(context.Background(), id, member, "course-a")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, engine.ErrPoolExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(member)
	}
	wg.Wait()

	assert.Equal(t, capacity, granted)
	assert.Equal(t, callers-capacity, exhausted)
	assert.Equal(t, capacity, f.pool(t, id).Used)
	assert.Equal(t, capacity, f.countActive(t, id))
}

func TestConcurrentDuplicateGrantsHoldOneSeat(t *testing.T) {
	f := newFixture(t)
	m := f.members(1)
	id := f.createPool(t, 10, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Grant(context.Background(), id, m[0], "course-a")
			if err != nil && !errors.Is(err, engine.ErrDuplicateAssignment) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.countActive(t, id))
	assert.Equal(t, 1, f.pool(t, id).Used)
}

func TestRandomizedGrantReleaseKeepsInvariants(t *testing.T) {
	for _, allowReplace := range []bool{true, false} {
		t.Run(fmt.Sprintf("allow_replace=%v", allowReplace), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			m := f.members(8)
			courses := []string{"course-a", "course-b"}
			const capacity = 6
			id := f.createPool(t, capacity, allowReplace)

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(seed int64) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(seed))
					for i := 0; i < 25; i++ {
						member := m[rng.Intn(len(m))]
						course := courses[rng.Intn(len(courses))]
						if rng.Intn(3) == 0 {
							active, err := f.eng.ListAssignments(ctx, model.AssignmentFilter{
								PoolID: id, MemberID: member, Status: model.AssignmentActive,
							})
							if err != nil {
								t.Errorf("list: %v", err)
								return
							}
							for _, a := range active {
								err := f.eng.Release(ctx, a.ID, model.ReleaseManual)
								if err != nil && !errors.Is(err, engine.ErrAssignmentNotActive) {
									t.Errorf("release: %v", err)
								}
							}
							continue
						}
						_, err := f.eng.Grant(ctx, id, member, course)
						if err != nil && !errors.Is(err, engine.ErrPoolExhausted) && !errors.Is(err, engine.ErrDuplicateAssignment) {
							t.Errorf("grant: %v", err)
						}
						if p, err := f.eng.Get(ctx, id); err == nil && p.Used > p.Capacity {
							t.Errorf("used %d exceeds capacity %d", p.Used, p.Capacity)
						}
					}
				}(int64(w + 1))
			}
			wg.Wait()

			p := f.pool(t, id)
			assert.LessOrEqual(t, p.Used, p.Capacity)

			var dupes int
			require.NoError(t, f.db.GetContext(ctx, &dupes, `SELECT COUNT(*) FROM (
				SELECT member_id, course_id FROM seat_assignments
				WHERE pool_id = ? AND status = 'active'
				GROUP BY member_id, course_id HAVING COUNT(*) > 1) d`, id))
			assert.Zero(t, dupes)

			// The cached counter agrees with the ledger, so resync has
			// nothing to correct.
			res, err := f.eng.Recount(ctx, id, "")
			require.NoError(t, err)
			assert.False(t, res.Changed(), "before=%d after=%d", res.Before, res.After)
		})
	}
}
