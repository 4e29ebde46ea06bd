// Package storage defines the datastore contract for itemvault. Concrete
// engines live in the sqlite, postgres and memory sub-packages.
package storage

import (
	"context"
	"time"
)

// User is a stored account. At least one of HashedPassword or
// (OAuthProvider, ExternalID) is set; hybrid deployments may carry both on a
// single row when the account has been explicitly linked.
type User struct {
	ID             string
	Email          string
	Username       string
	FullName       string
	HashedPassword string
	OAuthProvider  string
	ExternalID     string
	IsActive       bool
	IsAdmin        bool
	CreatedAt      time.Time
	LastLogin      time.Time
}

// Item is an owned resource. Deleting the owning user deletes its items.
type Item struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
}

// Tag is shared across items through the item_tags join table. Tags are never
// cascade-deleted when an item goes away; only the join rows are.
type Tag struct {
	ID   string
	Name string
}

// ItemFilter narrows and orders item listings.
type ItemFilter struct {
	// OwnerID scopes the listing to one owner when non-empty.
	OwnerID string
	// Search matches title or description, case-insensitively.
	Search string
	// SortBy is "id" or "title"; anything else falls back to "id".
	SortBy   string
	SortDesc bool
	Skip     int
	Limit    int
}

// UserStore provides durable access to user rows.
type UserStore interface {
	// CreateUser inserts a new row and returns ErrCollision when the email or
	// username is already taken. Callers racing a first login rely on that
	// collision to re-read the winning row.
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	TouchLastLogin(ctx context.Context, id string, when time.Time) error
	// DeleteUser removes the row and, through the declared cascade, every item
	// the user owns.
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, skip, limit int) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)
	// ListUsersByIDs is the batched lookup behind the owner relation loader.
	// Missing ids are simply absent from the result.
	ListUsersByIDs(ctx context.Context, ids []string) ([]*User, error)
}

// ItemStore provides durable access to item rows.
type ItemStore interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	// DeleteItem removes the row and its item_tags join rows; tag rows stay.
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*Item, error)
	CountItems(ctx context.Context, filter ItemFilter) (int64, error)
	// ListItemsByOwnerIDs is the batched lookup behind the items relation
	// loader, returning items grouped by owner.
	ListItemsByOwnerIDs(ctx context.Context, ownerIDs []string) (map[string][]*Item, error)
}

// TagStore provides durable access to tags and the item/tag join.
type TagStore interface {
	CreateTag(ctx context.Context, tag *Tag) error
	GetTag(ctx context.Context, id string) (*Tag, error)
	DeleteTag(ctx context.Context, id string) error
	// AddItemTag returns ErrIntegrityViolation when either side is missing and
	// ErrCollision when the pair already exists.
	AddItemTag(ctx context.Context, itemID, tagID string) error
	RemoveItemTag(ctx context.Context, itemID, tagID string) error
	// ListTagsByItemIDs is the batched lookup behind the tags relation loader,
	// returning tags grouped by item.
	ListTagsByItemIDs(ctx context.Context, itemIDs []string) (map[string][]*Tag, error)
}

// Datastore is the complete storage surface the server is wired against.
type Datastore interface {
	UserStore
	ItemStore
	TagStore

	// Ready reports whether the datastore is reachable and migrated.
	Ready(ctx context.Context) error

	Close()
}
