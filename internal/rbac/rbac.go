package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	// ActionRead covers principles, samples, stats and search.
	ActionRead Action = "read"
	// ActionReview covers writing the caller's own revision overlay.
	ActionReview Action = "review"
	// ActionCurate covers editing shared principle text.
	ActionCurate Action = "curate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps token roles onto known roles. Tokens without a role belong
// to ordinary reviewers; "superuser" is accepted as an alias for admin.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleAdmin:
		return Role(role)
	case "superuser":
		return RoleAdmin
	default:
		return RoleReviewer
	}
}
