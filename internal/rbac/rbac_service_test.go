package rbac_test

import (
	"path/filepath"
	"testing"

	"leavedesk/internal/domain"
	"leavedesk/internal/rbac"
	"leavedesk/internal/rbac/infra"

	"github.com/stretchr/testify/assert"
)

func setupRBAC(t *testing.T) rbac.Service {
	t.Helper()

	enforcer, err := infra.NewEnforcer(filepath.Join("infra", "model.conf"))
	assert.NoError(t, err)

	svc, err := rbac.NewService(enforcer)
	assert.NoError(t, err)
	return svc
}

func TestRBACService_Enforce(t *testing.T) {
	svc := setupRBAC(t)

	cases := []struct {
		name    string
		role    string
		obj     string
		act     string
		allowed bool
	}{
		{"employee submits leave", rbac.RoleEmployee, "leave", "create", true},
		{"employee reads leave", rbac.RoleEmployee, "leave", "read", true},
		{"employee reads balance", rbac.RoleEmployee, "balance", "read", true},
		{"employee cannot read the review queue", rbac.RoleEmployee, "leave", "read_all", false},
		{"employee cannot open balances", rbac.RoleEmployee, "balance", "open", false},
		{"employee cannot credit balances", rbac.RoleEmployee, "balance", "credit", false},
		{"manager reads the review queue", rbac.RoleManager, "leave", "read_all", true},
		{"manager opens balances", rbac.RoleManager, "balance", "open", true},
		{"manager credits balances", rbac.RoleManager, "balance", "credit", true},
		{"manager inherits employee permissions", rbac.RoleManager, "leave", "create", true},
		{"unknown role denied", "auditor", "leave", "read", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, err := svc.Enforce(domain.EnforceRequest{
				Role:     tc.role,
				Resource: tc.obj,
				Action:   tc.act,
			})
			assert.NoError(t, err)
			assert.Equal(t, tc.allowed, allowed)
		})
	}
}
