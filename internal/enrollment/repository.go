// Package enrollment resolves session audiences from course enrollments and
// organization membership.
package enrollment

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/models"
)

// Repository answers audience-resolution queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CourseStudentIDs returns students with an active enrollment in the course.
func (r *Repository) CourseStudentIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT student_id FROM enrollments WHERE course_id = $1 AND status = $2`
	rows, err := r.pool.Query(ctx, q, courseID, models.EnrollmentStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrgStudentIDs returns every student belonging to the organization.
func (r *Repository) OrgStudentIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT id FROM users WHERE organization_id = $1 AND role = $2`
	rows, err := r.pool.Query(ctx, q, orgID, models.RoleStudent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
