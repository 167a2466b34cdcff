package models

import (
	"time"
)

// User represents a feed member. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Posts        []Post    `gorm:"foreignKey:CreatorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Votes        []Vote    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// PublicUser is the projection of a user visible to other viewers.
type PublicUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// PublicFor projects the user for the given viewer. Email is only shown to the user themselves.
func (u User) PublicFor(viewerID uint) PublicUser {
	p := PublicUser{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
	if viewerID != 0 && viewerID == u.ID {
		p.Email = u.Email
	}
	return p
}
