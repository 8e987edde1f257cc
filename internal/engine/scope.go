package engine

import (
	"context"
	"fmt"

	"github.com/iliyamo/training-seat-pools/internal/model"
)

// ScopeResolver decides which members and courses a pool covers.  It holds
// no state of its own: team membership is read from the Directory on every
// call, so a member who leaves a team stops being eligible immediately.
type ScopeResolver struct {
	dir Directory
}

// NewScopeResolver returns a resolver over dir.
func NewScopeResolver(dir Directory) *ScopeResolver {
	return &ScopeResolver{dir: dir}
}

// Validate checks that every identifier referenced by a scope exists within
// the organization.
func (r *ScopeResolver) Validate(ctx context.Context, orgID string, s model.Scope) error {
	ok, err := r.dir.OrgExists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("lookup organization %q: %w", orgID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrg, orgID)
	}
	if team := s.Team(); team != "" {
		ok, err := r.dir.TeamExists(ctx, orgID, team)
		if err != nil {
			return fmt.Errorf("lookup team %q: %w", team, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTeam, team)
		}
	}
	for _, c := range s.Courses {
		ok, err := r.dir.CourseExists(ctx, orgID, c)
		if err != nil {
			return fmt.Errorf("lookup course %q: %w", c, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCourse, c)
		}
	}
	return nil
}

// Courses lists the courses a pool may allocate.  An explicit course list
// wins; a team pool uses the team catalog and falls back to the
// organization catalog when the team has none.
func (r *ScopeResolver) Courses(ctx context.Context, p model.SeatPool) ([]string, error) {
	switch p.Scope.Kind() {
	case model.ScopeCourses:
		return append([]string(nil), p.Scope.Courses...), nil
	case model.ScopeTeam:
		courses, err := r.dir.TeamCourses(ctx, p.Scope.Team())
		if err != nil {
			return nil, err
		}
		if len(courses) > 0 {
			return courses, nil
		}
	}
	return r.dir.OrgCourses(ctx, p.OrgID)
}

// MemberEligible reports whether the member may hold seats from the pool.
func (r *ScopeResolver) MemberEligible(ctx context.Context, p model.SeatPool, memberID string) (bool, error) {
	ok, err := r.dir.IsOrgMember(ctx, p.OrgID, memberID)
	if err != nil || !ok {
		return false, err
	}
	if team := p.Scope.Team(); team != "" {
		return r.dir.IsTeamMember(ctx, team, memberID)
	}
	return true, nil
}

// CourseEligible reports whether the course is covered by the pool.
func (r *ScopeResolver) CourseEligible(ctx context.Context, p model.SeatPool, courseID string) (bool, error) {
	switch p.Scope.Kind() {
	case model.ScopeCourses:
		return p.Scope.Courses.Contains(courseID), nil
	case model.ScopeTeam:
		courses, err := r.dir.TeamCourses(ctx, p.Scope.Team())
		if err != nil {
			return false, err
		}
		if len(courses) > 0 {
			return model.CourseList(courses).Contains(courseID), nil
		}
	}
	return r.dir.CourseExists(ctx, p.OrgID, courseID)
}

// Eligible reports whether the (member, course) pair falls inside the
// pool's scope.
func (r *ScopeResolver) Eligible(ctx context.Context, p model.SeatPool, memberID, courseID string) (bool, error) {
	ok, err := r.MemberEligible(ctx, p, memberID)
	if err != nil {
		return false, fmt.Errorf("member eligibility: %w", err)
	}
	if !ok {
		return false, nil
	}
	ok, err = r.CourseEligible(ctx, p, courseID)
	if err != nil {
		return false, fmt.Errorf("course eligibility: %w", err)
	}
	return ok, nil
}
