package rbac

type Role string
type Action string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

const (
	ActionBrowse       Action = "browse"
	ActionMakeOffer    Action = "make_offer"
	ActionListProperty Action = "list_property"
	ActionManageOffers Action = "manage_offers"
	ActionEngage       Action = "engage"
	ActionMessage      Action = "message"
	ActionAdmin        Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSeller:
		return action == ActionBrowse || action == ActionListProperty || action == ActionManageOffers || action == ActionMessage
	case RoleBuyer:
		return action == ActionBrowse || action == ActionMakeOffer || action == ActionEngage || action == ActionMessage
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return Role(role)
	default:
		return RoleBuyer
	}
}

// Registrable reports whether a role may be chosen at sign-up.
func Registrable(role string) bool {
	return Role(role) == RoleBuyer || Role(role) == RoleSeller
}
