package loader

import (
	"context"

	"github.com/itemvault/itemvault/pkg/storage"
)

// Collection holds the relation loaders for one request. Build a fresh one
// per request so nothing leaks between principals.
type Collection struct {
	OwnerByID      *Loader[string, *storage.User]
	ItemsByOwnerID *Loader[string, []*storage.Item]
	TagsByItemID   *Loader[string, []*storage.Tag]
}

func NewCollection(ds storage.Datastore) *Collection {
	return &Collection{
		OwnerByID: New(func(ctx context.Context, ids []string) (map[string]*storage.User, error) {
			users, err := ds.ListUsersByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			byID := make(map[string]*storage.User, len(users))
			for _, user := range users {
				byID[user.ID] = user
			}
			return byID, nil
		}),
		ItemsByOwnerID: New(func(ctx context.Context, ownerIDs []string) (map[string][]*storage.Item, error) {
			return ds.ListItemsByOwnerIDs(ctx, ownerIDs)
		}),
		TagsByItemID: New(func(ctx context.Context, itemIDs []string) (map[string][]*storage.Tag, error) {
			return ds.ListTagsByItemIDs(ctx, itemIDs)
		}),
	}
}
