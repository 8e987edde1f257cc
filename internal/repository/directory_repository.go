package repository

import (
	"context"

	"github.com/iliyamo/training-seat-pools/internal/database"
)

// DirectoryRepo is a read-only view over the organization, team, member
// and course tables that the host platform keeps in sync.  Membership is
// read on every call so that team changes apply to the next allocation.
type DirectoryRepo struct {
	db database.Handler
}

// NewDirectoryRepo returns a DirectoryRepo bound to the given handler.
func NewDirectoryRepo(db database.Handler) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(query), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// OrgExists reports whether the organization is known.
func (r *DirectoryRepo) OrgExists(ctx context.Context, orgID string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM organizations WHERE id = ?`, orgID)
}

// TeamExists reports whether the team belongs to the organization.
func (r *DirectoryRepo) TeamExists(ctx context.Context, orgID, teamID string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM teams WHERE id = ? AND org_id = ?`, teamID, orgID)
}

// CourseExists reports whether the course is in the organization catalog.
func (r *DirectoryRepo) CourseExists(ctx context.Context, orgID, courseID string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM courses WHERE id = ? AND org_id = ?`, courseID, orgID)
}

// IsOrgMember reports whether the member belongs to the organization.
func (r *DirectoryRepo) IsOrgMember(ctx context.Context, orgID, memberID string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM org_members WHERE org_id = ? AND member_id = ?`, orgID, memberID)
}

// IsTeamMember reports whether the member currently belongs to the team.
func (r *DirectoryRepo) IsTeamMember(ctx context.Context, teamID, memberID string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id = ? AND member_id = ?`, teamID, memberID)
}

// OrgCourses lists the organization catalog.
func (r *DirectoryRepo) OrgCourses(ctx context.Context, orgID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`SELECT id FROM courses WHERE org_id = ? ORDER BY id`), orgID)
	return ids, err
}

// TeamCourses lists the courses linked to a team.  An empty result means
// the team follows its organization catalog.
func (r *DirectoryRepo) TeamCourses(ctx context.Context, teamID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`SELECT course_id FROM team_courses WHERE team_id = ? ORDER BY course_id`), teamID)
	return ids, err
}
