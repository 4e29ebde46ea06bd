package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/migrate"
	"github.com/itemvault/itemvault/pkg/storage/sqlcommon"
)

func newDatastore(t *testing.T) *Datastore {
	t.Helper()

	uri := filepath.Join(t.TempDir(), "itemvault.db")

	dsn, err := PrepareDSN(uri)
	require.NoError(t, err)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, migrate.RunMigrations(db, "sqlite"))
	require.NoError(t, db.Close())

	ds, err := New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return ds
}

func mustCreateUser(t *testing.T, ds *Datastore, id string) *storage.User {
	t.Helper()
	user := &storage.User{
		ID:        id,
		Email:     id + "@example.com",
		Username:  id,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, ds.CreateUser(context.Background(), user))
	return user
}

func mustCreateItem(t *testing.T, ds *Datastore, id, ownerID string) *storage.Item {
	t.Helper()
	item := &storage.Item{ID: id, Title: "Item " + id, OwnerID: ownerID}
	require.NoError(t, ds.CreateItem(context.Background(), item))
	return item
}

func TestReadyRequiresMigratedSchema(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "itemvault.db")

	ds, err := New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	err = ds.Ready(context.Background())
	require.ErrorContains(t, err, "schema revision")

	require.NoError(t, migrate.RunMigrations(ds.db, "sqlite"))
	require.NoError(t, ds.Ready(context.Background()))
}

func TestUserRoundTrip(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	user := mustCreateUser(t, ds, "user-1")

	got, err := ds.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)
	require.True(t, got.IsActive)

	got, err = ds.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	got, err = ds.GetUserByUsername(ctx, user.Username)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = ds.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDuplicateEmailIsACollision(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	mustCreateUser(t, ds, "user-1")

	err := ds.CreateUser(ctx, &storage.User{
		ID:        "user-2",
		Email:     "user-1@example.com",
		Username:  "someone-else",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, storage.ErrCollision)
}

func TestTouchLastLogin(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	user := mustCreateUser(t, ds, "user-1")
	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ds.TouchLastLogin(ctx, user.ID, when))

	got, err := ds.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, when, got.LastLogin.UTC())

	require.ErrorIs(t, ds.TouchLastLogin(ctx, "missing", when), storage.ErrNotFound)
}

func TestItemWithUnknownOwnerViolatesIntegrity(t *testing.T) {
	ds := newDatastore(t)

	err := ds.CreateItem(context.Background(), &storage.Item{
		ID:      "item-1",
		Title:   "Orphan",
		OwnerID: "missing",
	})
	require.ErrorIs(t, err, storage.ErrIntegrityViolation)
}

func TestDeleteUserCascadesItems(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	user := mustCreateUser(t, ds, "user-1")
	mustCreateItem(t, ds, "item-1", user.ID)
	mustCreateItem(t, ds, "item-2", user.ID)

	require.NoError(t, ds.DeleteUser(ctx, user.ID))

	_, err := ds.GetItem(ctx, "item-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	count, err := ds.CountItems(ctx, storage.ItemFilter{})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestItemTagCascadeStopsAtJoinRows(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	user := mustCreateUser(t, ds, "user-1")
	item := mustCreateItem(t, ds, "item-1", user.ID)
	tag := &storage.Tag{ID: "tag-1", Name: "notebooks"}
	require.NoError(t, ds.CreateTag(ctx, tag))
	require.NoError(t, ds.AddItemTag(ctx, item.ID, tag.ID))

	// Deleting the item removes its join rows; the tag row survives.
	require.NoError(t, ds.DeleteItem(ctx, item.ID))
	_, err := ds.GetTag(ctx, tag.ID)
	require.NoError(t, err)
	tags, err := ds.ListTagsByItemIDs(ctx, []string{item.ID})
	require.NoError(t, err)
	require.Empty(t, tags[item.ID])

	// Deleting a tag removes its join rows; tagged items survive.
	item = mustCreateItem(t, ds, "item-2", user.ID)
	require.NoError(t, ds.AddItemTag(ctx, item.ID, tag.ID))
	require.NoError(t, ds.DeleteTag(ctx, tag.ID))
	_, err = ds.GetItem(ctx, item.ID)
	require.NoError(t, err)
	tags, err = ds.ListTagsByItemIDs(ctx, []string{item.ID})
	require.NoError(t, err)
	require.Empty(t, tags[item.ID])
}

func TestListItemsFilter(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, ds, "alice")
	bob := mustCreateUser(t, ds, "bob")

	require.NoError(t, ds.CreateItem(ctx, &storage.Item{ID: "i-1", Title: "Camping stove", OwnerID: alice.ID}))
	require.NoError(t, ds.CreateItem(ctx, &storage.Item{ID: "i-2", Title: "Sleeping bag", OwnerID: alice.ID}))
	require.NoError(t, ds.CreateItem(ctx, &storage.Item{ID: "i-3", Title: "Stove kettle", OwnerID: bob.ID}))

	items, err := ds.ListItems(ctx, storage.ItemFilter{OwnerID: alice.ID})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = ds.ListItems(ctx, storage.ItemFilter{Search: "stove"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = ds.ListItems(ctx, storage.ItemFilter{SortBy: "title", SortDesc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Stove kettle", items[0].Title)

	count, err := ds.CountItems(ctx, storage.ItemFilter{OwnerID: alice.ID})
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestBatchedRelationLookups(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, ds, "alice")
	bob := mustCreateUser(t, ds, "bob")
	mustCreateItem(t, ds, "i-1", alice.ID)
	mustCreateItem(t, ds, "i-2", alice.ID)
	mustCreateItem(t, ds, "i-3", bob.ID)

	tag := &storage.Tag{ID: "tag-1", Name: "gear"}
	require.NoError(t, ds.CreateTag(ctx, tag))
	require.NoError(t, ds.AddItemTag(ctx, "i-1", tag.ID))
	require.NoError(t, ds.AddItemTag(ctx, "i-3", tag.ID))

	users, err := ds.ListUsersByIDs(ctx, []string{alice.ID, bob.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, users, 2)

	itemsByOwner, err := ds.ListItemsByOwnerIDs(ctx, []string{alice.ID, bob.ID})
	require.NoError(t, err)
	require.Len(t, itemsByOwner[alice.ID], 2)
	require.Len(t, itemsByOwner[bob.ID], 1)

	tagsByItem, err := ds.ListTagsByItemIDs(ctx, []string{"i-1", "i-2", "i-3"})
	require.NoError(t, err)
	require.Len(t, tagsByItem["i-1"], 1)
	require.Empty(t, tagsByItem["i-2"])
	require.Len(t, tagsByItem["i-3"], 1)
}

func TestUpdateItem(t *testing.T) {
	ds := newDatastore(t)
	ctx := context.Background()

	user := mustCreateUser(t, ds, "user-1")
	item := mustCreateItem(t, ds, "item-1", user.ID)

	item.Title = "Renamed"
	item.Description = "now with a description"
	require.NoError(t, ds.UpdateItem(ctx, item))

	got, err := ds.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Equal(t, "now with a description", got.Description)

	require.ErrorIs(t, ds.UpdateItem(ctx, &storage.Item{ID: "missing", Title: "x", OwnerID: user.ID}), storage.ErrNotFound)
}
