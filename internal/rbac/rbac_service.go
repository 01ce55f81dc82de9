package rbac

import (
	"sync"

	"leavedesk/internal/domain"

	"github.com/casbin/casbin/v2"
)

const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
)

type Service interface {
	Enforce(req domain.EnforceRequest) (bool, error)
}

type service struct {
	enforcer *casbin.Enforcer
	mu       sync.Mutex
}

// NewService seeds the static role policy. The role set is fixed (employee,
// manager); managers inherit every employee permission.
func NewService(enforcer *casbin.Enforcer) (Service, error) {
	policies := [][]string{
		{RoleEmployee, "leave", "create"},
		{RoleEmployee, "leave", "read"},
		{RoleEmployee, "balance", "read"},
		{RoleManager, "leave", "read_all"},
		{RoleManager, "balance", "open"},
		{RoleManager, "balance", "credit"},
	}
	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}
	if _, err := enforcer.AddGroupingPolicy(RoleManager, RoleEmployee); err != nil {
		return nil, err
	}

	return &service{enforcer: enforcer}, nil
}

func (s *service) Enforce(req domain.EnforceRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enforcer.Enforce(req.Role, req.Resource, req.Action)
}
