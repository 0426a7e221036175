package capability

// Role identifies the class of user a session belongs to.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleGate    Role = "gate"
	RoleStore   Role = "store"
	RoleUser    Role = "user"
	RoleUnknown Role = "unknown"
)

// ParseRole maps a backend role string onto a known Role. Anything
// unrecognized collapses to RoleUnknown, which holds no capabilities.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleGate, RoleStore, RoleUser:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// Action is an operation a principal may attempt on an invoice.
type Action string

const (
	ActionUpload      Action = "upload"
	ActionView        Action = "view"
	ActionEdit        Action = "edit"
	ActionApprove     Action = "approve"
	ActionManageUsers Action = "manage_users"
)

// grants is the full capability table. There is no inheritance between
// roles; every cell is spelled out.
var grants = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionUpload:      true,
		ActionView:        true,
		ActionEdit:        false,
		ActionApprove:     true,
		ActionManageUsers: true,
	},
	RoleGate: {
		ActionUpload:      true,
		ActionView:        true,
		ActionEdit:        true,
		ActionApprove:     false,
		ActionManageUsers: false,
	},
	RoleStore: {
		ActionUpload:      false,
		ActionView:        true,
		ActionEdit:        false,
		ActionApprove:     true,
		ActionManageUsers: false,
	},
	RoleUser: {
		ActionUpload:      true,
		ActionView:        true,
		ActionEdit:        false,
		ActionApprove:     false,
		ActionManageUsers: false,
	},
}

// Can reports whether the role may perform the action. Unknown roles
// and unknown actions are denied; the lookup never fails.
func Can(role Role, action Action) bool {
	actions, ok := grants[role]
	if !ok {
		return false
	}
	return actions[action]
}

// Allowed returns every action the role may perform. Useful for
// building menus and for logging denied attempts with context.
func Allowed(role Role) []Action {
	actions, ok := grants[role]
	if !ok {
		return nil
	}
	allowed := make([]Action, 0, len(actions))
	for _, a := range []Action{ActionUpload, ActionView, ActionEdit, ActionApprove, ActionManageUsers} {
		if actions[a] {
			allowed = append(allowed, a)
		}
	}
	return allowed
}
