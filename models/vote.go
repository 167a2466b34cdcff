package models

import (
	"strconv"
	"time"
)

// Vote is one user's vote on one post. The composite primary key makes (user, post) unique.
type Vote struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	PostID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"post_id"`
	Value     int       `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VoteKey identifies a vote row.
type VoteKey struct {
	UserID uint
	PostID uint
}

// Key returns a collision-free canonical form of k.
func (k VoteKey) Key() string {
	return strconv.FormatUint(uint64(k.UserID), 10) + "&" + strconv.FormatUint(uint64(k.PostID), 10)
}

// Key returns the canonical key of the row.
func (v Vote) Key() string {
	return VoteKey{UserID: v.UserID, PostID: v.PostID}.Key()
}
