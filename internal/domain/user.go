// Package domain contains the meeting entities. No transport or lifecycle
// logic lives here, only metadata and small constructors.
package domain

import "errors"

const MaxNameLen = 64

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")
)

type UserID string

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is the identity the auth collaborator asserts for a connection.
// The core trusts it for the lifetime of the socket.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func NewUser(id UserID, name string, role Role) (*User, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if role == "" {
		role = RoleMember
	}
	return &User{ID: id, Name: name, Role: role}, nil
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
