package models

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User представляет пользователя
type User struct {
	ID       int64
	Email    string
	PassHash []byte
	Role     string
}
