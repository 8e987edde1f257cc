package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/database/dbtest"
	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/model"
	"github.com/iliyamo/training-seat-pools/internal/repository"
)

var _ engine.Store = (*repository.SeatStore)(nil)
var _ engine.Directory = (*repository.DirectoryRepo)(nil)

const (
	testOrg  = "org-1"
	testTeam = "team-a"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeDirectory is an in-memory Directory.  Every member added through
// addMember belongs to testOrg.
type fakeDirectory struct {
	mu          sync.Mutex
	orgs        map[string]bool
	teams       map[string]string
	courses     map[string]string
	orgMembers  map[string]bool
	teamMembers map[string]map[string]bool
	teamCourses map[string][]string
	fail        error
}

func newFakeDirectory() *fakeDirectory {
	d := &fakeDirectory{
		orgs:        map[string]bool{testOrg: true},
		teams:       map[string]string{testTeam: testOrg},
		courses:     map[string]string{},
		orgMembers:  map[string]bool{},
		teamMembers: map[string]map[string]bool{testTeam: {}},
		teamCourses: map[string][]string{},
	}
	for _, c := range []string{"course-a", "course-b", "course-c"} {
		d.courses[c] = testOrg
	}
	return d
}

func (d *fakeDirectory) addMember(member string, teams ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgMembers[member] = true
	for _, t := range teams {
		d.teamMembers[t][member] = true
	}
}

func (d *fakeDirectory) removeFromTeam(member, team string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.teamMembers[team], member)
}

func (d *fakeDirectory) OrgExists(_ context.Context, org string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orgs[org], d.fail
}

func (d *fakeDirectory) TeamExists(_ context.Context, org, team string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teams[team] == org, d.fail
}

func (d *fakeDirectory) CourseExists(_ context.Context, org, course string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.courses[course] == org, d.fail
}

func (d *fakeDirectory) IsOrgMember(_ context.Context, org, member string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return org == testOrg && d.orgMembers[member], d.fail
}

func (d *fakeDirectory) IsTeamMember(_ context.Context, team, member string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teamMembers[team][member], d.fail
}

func (d *fakeDirectory) OrgCourses(_ context.Context, org string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for c, o := range d.courses {
		if o == org {
			out = append(out, c)
		}
	}
	return out, d.fail
}

func (d *fakeDirectory) TeamCourses(_ context.Context, team string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teamCourses[team], d.fail
}

// recordingEnroller records enrollment calls and fails Enroll for the
// courses listed in failOn.
type recordingEnroller struct {
	mu        sync.Mutex
	enrolled  []string
	unenroled []string
	failOn    map[string]bool
}

func (r *recordingEnroller) Enroll(_ context.Context, member, course string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[course] {
		return errors.New("enrollment service unavailable")
	}
	r.enrolled = append(r.enrolled, member+"/"+course)
	return nil
}

func (r *recordingEnroller) Unenroll(_ context.Context, member, course string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unenroled = append(r.unenroled, member+"/"+course)
	return nil
}

func (r *recordingEnroller) unenrolls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unenroled...)
}

// eventSink collects events delivered to subscribers.
type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *eventSink) Notify(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) ofType(t model.EventType) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// seatEvents keeps the events tied to a member.
func seatEvents(events []model.Event) []model.Event {
	var out []model.Event
	for _, e := range events {
		if e.MemberID != nil {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	db       *database.DB
	eng      *engine.Engine
	dir      *fakeDirectory
	clock    *fakeClock
	enroller *recordingEnroller
	sink     *eventSink
}

type fixtureOption func(*engine.Options)

func withConfig(fn func(*config.EngineConfig)) fixtureOption {
	return func(o *engine.Options) { fn(&o.Config) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	return newFixtureWithStore(t, repository.NewSeatStore(), opts...)
}

func newFixtureWithStore(t *testing.T, store engine.Store, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		db:       dbtest.OpenSQLite(t),
		dir:      newFakeDirectory(),
		clock:    &fakeClock{now: epoch},
		enroller: &recordingEnroller{failOn: map[string]bool{}},
		sink:     &eventSink{},
	}
	o := engine.Options{
		Directory:   f.dir,
		Enroller:    f.enroller,
		Subscribers: []engine.Subscriber{f.sink},
		Clock:       f.clock,
		Config:      config.DefaultEngineConfig(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.eng = engine.New(f.db, store, o)
	return f
}

func (f *fixture) members(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("member-%d", i+1)
		f.dir.addMember(out[i])
	}
	return out
}

func (f *fixture) createPool(t *testing.T, capacity int, allowReplace bool, mutate ...func(*model.PoolSpec)) uint64 {
	t.Helper()
	spec := model.PoolSpec{
		OrgID:        testOrg,
		Name:         "pool",
		Capacity:     capacity,
		AllowReplace: &allowReplace,
	}
	for _, fn := range mutate {
		fn(&spec)
	}
	id, err := f.eng.Create(context.Background(), spec)
	require.NoError(t, err)
	return id
}

func (f *fixture) pool(t *testing.T, id uint64) model.SeatPool {
	t.Helper()
	p, err := f.eng.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) countActive(t *testing.T, poolID uint64) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.GetContext(context.Background(), &n,
		`SELECT COUNT(*) FROM seat_assignments WHERE pool_id = ? AND status = 'active'`, poolID))
	return n
}

func ptr[T any](v T) *T { return &v }
