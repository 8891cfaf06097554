package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleNone   Role = ""
)

const (
	ActionView          Action = "view"
	ActionViewAllTasks  Action = "view_all_tasks"
	ActionEdit          Action = "edit"
	ActionManageMembers Action = "manage_members"
	ActionDelete        Action = "delete"
)

// Can reports whether a project role permits an action. RoleOwner is the
// project owner; RoleAdmin and RoleMember are pivot roles on a membership.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action == ActionView || action == ActionViewAllTasks || action == ActionEdit || action == ActionManageMembers
	case RoleMember:
		return action == ActionView
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleNone
	}
}
