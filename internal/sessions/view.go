package sessions

import (
	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  models.Role
	OrgID *uuid.UUID
}

func (a Actor) isAdmin() bool { return a.Role == models.RoleAdmin }

func (a Actor) sameOrg(orgID uuid.UUID) bool {
	return a.OrgID != nil && *a.OrgID == orgID
}

// canManage reports whether the actor may create/update/cancel sessions in
// the given organization.
func canManage(a Actor, orgID uuid.UUID) bool {
	if a.isAdmin() {
		return true
	}
	return a.Role == models.RoleOrganization && a.sameOrg(orgID)
}

// canRunLifecycle reports whether the actor may start or end the session.
func canRunLifecycle(a Actor, s *models.Session) bool {
	if a.isAdmin() {
		return true
	}
	if a.Role == models.RoleOrganization && a.sameOrg(s.OrganizationID) {
		return true
	}
	return a.Role == models.RoleInstructor && s.InstructorID == a.ID
}

// canView gates every read endpoint and every join/leave/SDK-config
// operation. Admin sees everything; org and instructor actors see sessions
// they own or instruct; a student sees sessions they are enrolled in, or
// course-less organization-wide sessions of their own organization.
func canView(a Actor, s *models.Session) bool {
	switch a.Role {
	case models.RoleAdmin:
		return true
	case models.RoleOrganization:
		return a.sameOrg(s.OrganizationID)
	case models.RoleInstructor:
		return s.InstructorID == a.ID || a.sameOrg(s.OrganizationID)
	case models.RoleStudent:
		if s.IsEnrolled(a.ID) {
			return true
		}
		return s.CourseID == nil && a.sameOrg(s.OrganizationID)
	}
	return false
}

// View shapes a session for the given actor. The raw metrics sub-document is
// stripped for student actors regardless of which read path produced the
// session (direct fetch, list, or cache hit). Every response funnels
// through here, so the rule holds centrally rather than per endpoint.
func View(a Actor, s *models.Session) *models.Session {
	out := *s
	out.Meeting.EncryptedPasscode = ""
	if a.Role == models.RoleStudent {
		out.Metrics = nil
		out.Meeting.HostURL = ""
		out.Meeting.HostEmail = ""
	}
	return &out
}

// ViewList applies View across a result set.
func ViewList(a Actor, list []models.Session) []*models.Session {
	out := make([]*models.Session, 0, len(list))
	for i := range list {
		out = append(out, View(a, &list[i]))
	}
	return out
}
