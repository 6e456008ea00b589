package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-pos/internal/apperr"
	"ms-pos/internal/auth"
	"ms-pos/internal/models"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		op   auth.Operation
		role models.Role
		want bool
	}{
		{auth.OpOrderCreate, models.RoleWaiter, true},
		{auth.OpOrderPay, models.RoleWaiter, false},
		{auth.OpOrderPay, models.RoleCashier, true},
		{auth.OpOrderForceStatus, models.RoleCashier, false},
		{auth.OpOrderForceStatus, models.RoleManager, true},
		{auth.OpOrderDelete, models.RoleManager, false},
		{auth.OpOrderDelete, models.RoleAdmin, true},
		{auth.OpCashOpen, models.RoleWaiter, false},
		{auth.OpCashClose, models.RoleCashier, true},
		{auth.OpCashReports, models.RoleManager, true},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, auth.Allowed(c.op, c.role),
			"op=%s role=%s", c.op, c.role)
	}
}

func TestAllowedUnknown(t *testing.T) {
	assert.False(t, auth.Allowed("order.unknown", models.RoleAdmin))
	assert.False(t, auth.Allowed(auth.OpOrderCreate, "intern"))
}

func TestRequire(t *testing.T) {
	admin := models.Actor{ID: "u1", Role: models.RoleAdmin}
	waiter := models.Actor{ID: "u2", Role: models.RoleWaiter}

	assert.NoError(t, auth.Require(auth.OpOrderDelete, admin))

	err := auth.Require(auth.OpOrderDelete, waiter)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
