package domain

// EnforceRequest asks whether a role may perform an action on a resource.
// Roles are flat capability flags resolved by the identity layer (JWT claims),
// not an org hierarchy.
type EnforceRequest struct {
	Role     string
	Resource string
	Action   string
}
