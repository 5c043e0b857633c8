package service

// Roles carried in the JWT role claim.
const (
	RoleStaff   = "STAFF"
	RoleManager = "MANAGER"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

// IsManager reports whether the actor may resolve or bypass a locked room.
func (a Actor) IsManager() bool { return a.Role == RoleManager }

func requireManager(a Actor) error {
	if !a.IsManager() {
		return forbiddenError(CodeManagerRequired, "manager role required")
	}
	return nil
}
