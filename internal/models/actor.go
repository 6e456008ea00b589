package models

// Role of the staff member performing a request. Resolution of credentials
// into a role happens outside this service; handlers only receive the result.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
	RoleWaiter  Role = "waiter"
)

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
