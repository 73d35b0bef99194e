// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"
)

// DefaultUserName is shown for authors and commenters without a display name.
const DefaultUserName = "Anonymous"

// PostsCollection is the document collection name used by live queries and change events.
const PostsCollection = "posts"

// Post is a feed entry owned by UserID.
type Post struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"userId"`
	UserName  string    `gorm:"not null" json:"userName"`
	UserEmail string    `json:"userEmail"`
	Caption   string    `gorm:"type:text;not null;default:''" json:"caption"`
	ImageURL  *string   `json:"imageUrl"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `json:"-"`

	// Likes is the set of user IDs that liked the post, derived from LikeRows.
	Likes    []string  `gorm:"-" json:"likes"`
	Comments []Comment `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"comments"`
	LikeRows []Like    `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
}

// HasImage reports whether the post carries an image URL.
func (p *Post) HasImage() bool {
	return p.ImageURL != nil && strings.TrimSpace(*p.ImageURL) != ""
}

// LikedBy reports whether uid is in the like set.
func (p *Post) LikedBy(uid string) bool {
	for _, id := range p.Likes {
		if id == uid {
			return true
		}
	}
	return false
}

// Normalize fills Likes from LikeRows and replaces nil slices with empty ones so
// documents always encode likes and comments as arrays.
func (p *Post) Normalize() {
	if len(p.LikeRows) > 0 || p.Likes == nil {
		likes := make([]string, 0, len(p.LikeRows))
		for _, l := range p.LikeRows {
			likes = append(likes, l.UserID)
		}
		p.Likes = likes
	}
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	p.LikeRows = nil
}

// Comment is an append-only entry in a post's comment list.
type Comment struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PostID    string    `gorm:"type:varchar(36);not null;index" json:"-"`
	UserID    string    `gorm:"type:varchar(36);not null" json:"userId"`
	UserName  string    `gorm:"not null" json:"userName"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// Like records a single user's like on a post. The pair is the primary key, so a
// user appears in a post's like set at most once.
type Like struct {
	PostID    string    `gorm:"primaryKey;type:varchar(36)" json:"postId"`
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
