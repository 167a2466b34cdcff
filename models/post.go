package models

import (
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// SnippetLength is the number of runes kept by TextSnippet.
const SnippetLength = 90

// Post represents a feed entry. Points is written by the vote ledger only.
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatorID uint      `gorm:"index;not null" json:"creator_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Points    int       `gorm:"not null;default:0" json:"points"`
	Creator   *User     `gorm:"foreignKey:CreatorID" json:"-"`
	Votes     []Vote    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// PostView is a post as rendered to one viewer.
type PostView struct {
	ID          uint        `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CreatorID   uint        `json:"creator_id"`
	Creator     *PublicUser `json:"creator"`
	Title       string      `json:"title"`
	Text        string      `json:"text"`
	TextSnippet string      `json:"text_snippet"`
	Points      int         `json:"points"`
	MyVote      *int        `json:"my_vote"`
}

// PaginatedPosts is one page of the feed.
type PaginatedPosts struct {
	Posts   []PostView `json:"posts"`
	HasMore bool       `json:"has_more"`
}

// Cursor returns the pagination token that selects posts older than p.
func (p Post) Cursor() string {
	return FormatCursor(p.CreatedAt)
}

// TextSnippet shortens Text to SnippetLength runes.
func (p Post) TextSnippet() string {
	if utf8.RuneCountInString(p.Text) <= SnippetLength {
		return p.Text
	}
	return string([]rune(p.Text)[:SnippetLength]) + "..."
}

// BeforeCreate truncates CreatedAt to the millisecond so cursors round-trip exactly.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	return nil
}
