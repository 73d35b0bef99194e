// Package provider declares the boundary collaborators the client core is
// written against: an identity provider, a document store with live queries
// and a blob store.
package provider

import (
	"context"
	"io"
	"strings"

	"framez/internal/models"
)

// User is the identity record mirrored by the client.
type User struct {
	UID         string  `json:"uid"`
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
}

// Name returns the display name or models.DefaultUserName when none is set.
func (u *User) Name() string {
	if u != nil && u.DisplayName != nil {
		if n := strings.TrimSpace(*u.DisplayName); n != "" {
			return n
		}
	}
	return models.DefaultUserName
}

// EmailOrEmpty dereferences Email.
func (u *User) EmailOrEmpty() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// FromModel converts an API user.
func FromModel(m *models.User) *User {
	if m == nil {
		return nil
	}
	u := &User{UID: m.ID, DisplayName: m.DisplayName}
	if m.Email != "" {
		email := m.Email
		u.Email = &email
	}
	return u
}

// ProfileUpdate carries the mutable profile fields.
type ProfileUpdate struct {
	DisplayName string
}

// IdentityProvider owns accounts and the authoritative session.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	// OnStateChange registers cb for every authoritative session event. A nil
	// user means signed out. Once the state is known cb also receives it, so a
	// new listener always hears at least one event. Callbacks for one provider
	// run in order on a single goroutine.
	OnStateChange(cb func(*User)) (unsubscribe func())
	UpdateProfile(ctx context.Context, user *User, update ProfileUpdate) (*User, error)
}

// Patch is a partial update of a post document. Zero fields are left alone.
type Patch struct {
	Caption *string
	// AddLike and RemoveLike are set-union and set-removal on likes.
	AddLike    string
	RemoveLike string
	// AppendComment adds to the end of the comment list.
	AppendComment *models.Comment
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Caption == nil && p.AddLike == "" && p.RemoveLike == "" && p.AppendComment == nil
}

// Filter narrows a live query. An empty UserID matches every post.
type Filter struct {
	UserID string
}

// OrderBy sorts a live query.
type OrderBy struct {
	Field string
	Desc  bool
}

// NewestFirst is the only ordering the feed uses.
var NewestFirst = OrderBy{Field: "createdAt", Desc: true}

// Snapshot is one full result set of a live query, or the error that ended it.
type Snapshot struct {
	Posts []*models.Post
	Err   error
}

// LiveQuery delivers an initial snapshot, then a new full snapshot whenever
// the result changes. Snapshots is closed once the query ends.
type LiveQuery interface {
	Snapshots() <-chan Snapshot
	Close() error
}

// DocumentStore persists post documents.
type DocumentStore interface {
	Insert(ctx context.Context, collection string, doc *models.Post) (*models.Post, error)
	Update(ctx context.Context, collection, id string, patch Patch) error
	Delete(ctx context.Context, collection, id string) error
	LiveQuery(ctx context.Context, collection string, filter Filter, order OrderBy) (LiveQuery, error)
}

// ProgressFunc reports sent bytes out of total.
type ProgressFunc func(sent, total int64)

// BlobStore stores uploaded bytes and returns a durable URL for them.
type BlobStore interface {
	PutBytes(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) (string, error)
}
