package auth

import (
	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
)

type Operation string

const (
	OpSubmitBooking     Operation = "submit_booking"
	OpCancelBooking     Operation = "cancel_booking"
	OpFacultyDecision   Operation = "faculty_decision"
	OpOrganizerDecision Operation = "organizer_decision"
	OpManageEvents      Operation = "manage_events"
	OpCurateEvents      Operation = "curate_events"
	OpManageCatalog     Operation = "manage_catalog"
	OpManageUsers       Operation = "manage_users"
	OpManageSettings    Operation = "manage_settings"
	OpViewEventBookings Operation = "view_event_bookings"
	OpViewApprovalQueue Operation = "view_approval_queue"
	OpVerifyTickets     Operation = "verify_tickets"
)

// permissions is the role × operation table. Ownership rules (an organizer
// acting on their own event, a student on their own booking) are checked by
// the caller after the role passes here.
var permissions = map[Operation][]models.Role{
	OpSubmitBooking:     {models.RoleStudent},
	OpCancelBooking:     {models.RoleStudent, models.RoleAdmin},
	OpFacultyDecision:   {models.RoleFaculty},
	OpOrganizerDecision: {models.RoleOrganizer, models.RoleAdmin},
	OpManageEvents:      {models.RoleOrganizer, models.RoleAdmin},
	OpCurateEvents:      {models.RoleAdmin},
	OpManageCatalog:     {models.RoleAdmin},
	OpManageUsers:       {models.RoleAdmin},
	OpManageSettings:    {models.RoleAdmin},
	OpViewEventBookings: {models.RoleOrganizer, models.RoleFaculty, models.RoleAdmin},
	OpViewApprovalQueue: {models.RoleOrganizer, models.RoleFaculty, models.RoleAdmin},
	OpVerifyTickets:     {models.RoleOrganizer, models.RoleFaculty, models.RoleAdmin},
}

func Can(role models.Role, op Operation) bool {
	for _, r := range permissions[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize fails with an authorization error when id's role may not run op.
func Authorize(id Identity, op Operation) error {
	if !Can(id.Role, op) {
		return apperr.Authorization("role %s may not %s", id.Role, op)
	}
	return nil
}
