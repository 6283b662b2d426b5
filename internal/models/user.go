package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// UserTable is the document collection holding user profiles.
const UserTable = "users"

// Profile holds the editable profile fields of a user.
type Profile struct {
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birthDate"`
}

// User is a stored account. PasswordHash never leaves the auth and db packages.
type User struct {
	ID           surrealmodels.RecordID `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Surname      string                 `json:"surname"`
	Email        string                 `json:"email"`
	Phone        string                 `json:"phone"`
	BirthDate    string                 `json:"birthDate"`
	PasswordHash string                 `json:"password_hash,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// UserID returns the record key without the table prefix.
func (u *User) UserID() string {
	s, _ := RecordIDString(u.ID)
	return s
}

// Profile returns the user's profile fields.
func (u *User) Profile() Profile {
	return Profile{
		Name:      u.Name,
		Surname:   u.Surname,
		Email:     u.Email,
		Phone:     u.Phone,
		BirthDate: u.BirthDate,
	}
}
