package auth

import (
	"ms-pos/internal/apperr"
	"ms-pos/internal/models"
)

// Operation names every guarded business operation.
type Operation string

const (
	OpOrderCreate      Operation = "order.create"
	OpOrderAddItems    Operation = "order.add_items"
	OpOrderPay         Operation = "order.pay"
	OpOrderSetStatus   Operation = "order.set_status"
	OpOrderForceStatus Operation = "order.force_status"
	OpOrderDelete      Operation = "order.delete"
	OpCashOpen         Operation = "cash.open"
	OpCashMove         Operation = "cash.move"
	OpCashClose        Operation = "cash.close"
	OpCashReports      Operation = "cash.reports"
)

// permissions is the declarative operation → allowed roles table. Keeping
// authorization as data keeps role checks out of service control flow.
var permissions = map[Operation][]models.Role{
	OpOrderCreate:      {models.RoleAdmin, models.RoleManager, models.RoleCashier, models.RoleWaiter},
	OpOrderAddItems:    {models.RoleAdmin, models.RoleManager, models.RoleCashier, models.RoleWaiter},
	OpOrderPay:         {models.RoleAdmin, models.RoleManager, models.RoleCashier},
	OpOrderSetStatus:   {models.RoleAdmin, models.RoleManager, models.RoleCashier, models.RoleWaiter},
	OpOrderForceStatus: {models.RoleAdmin, models.RoleManager},
	OpOrderDelete:      {models.RoleAdmin},
	OpCashOpen:         {models.RoleAdmin, models.RoleManager, models.RoleCashier},
	OpCashMove:         {models.RoleAdmin, models.RoleManager, models.RoleCashier},
	OpCashClose:        {models.RoleAdmin, models.RoleManager, models.RoleCashier},
	OpCashReports:      {models.RoleAdmin, models.RoleManager, models.RoleCashier},
}

// Allowed reports whether the role may perform the operation.
func Allowed(op Operation, role models.Role) bool {
	for _, r := range permissions[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns a Forbidden error when the role may not perform the
// operation.
func Require(op Operation, actor models.Actor) error {
	if !Allowed(op, actor.Role) {
		return apperr.Forbidden("role " + string(actor.Role) + " may not perform " + string(op))
	}
	return nil
}
