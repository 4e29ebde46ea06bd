// Package memory provides an in-process [storage.Datastore] used by tests and
// the "memory" engine. It mirrors the relational integrity contract of the
// SQL engines: user deletion cascades to items, item or tag deletion removes
// only join rows.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itemvault/itemvault/pkg/storage"
)

type joinKey struct {
	itemID string
	tagID  string
}

// Datastore provides an in-memory implementation of [storage.Datastore].
type Datastore struct {
	mu       sync.RWMutex
	users    map[string]*storage.User
	items    map[string]*storage.Item
	tags     map[string]*storage.Tag
	itemTags map[joinKey]struct{}
}

var _ storage.Datastore = (*Datastore)(nil)

// New creates a new [Datastore].
func New() *Datastore {
	return &Datastore{
		users:    make(map[string]*storage.User),
		items:    make(map[string]*storage.Item),
		tags:     make(map[string]*storage.Tag),
		itemTags: make(map[joinKey]struct{}),
	}
}

// Close see [storage.Datastore].Close.
func (s *Datastore) Close() {}

// Ready see [storage.Datastore].Ready.
func (s *Datastore) Ready(ctx context.Context) error {
	return ctx.Err()
}

func copyUser(user *storage.User) *storage.User {
	clone := *user
	return &clone
}

func copyItem(item *storage.Item) *storage.Item {
	clone := *item
	return &clone
}

// CreateUser see [storage.UserStore].CreateUser.
func (s *Datastore) CreateUser(ctx context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return storage.ErrCollision
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return storage.ErrCollision
		}
		if user.Username != "" && existing.Username == user.Username {
			return storage.ErrCollision
		}
	}

	s.users[user.ID] = copyUser(user)
	return nil
}

// GetUserByID see [storage.UserStore].GetUserByID.
func (s *Datastore) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyUser(user), nil
}

// GetUserByEmail see [storage.UserStore].GetUserByEmail.
func (s *Datastore) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			return copyUser(user), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetUserByUsername see [storage.UserStore].GetUserByUsername.
func (s *Datastore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if username == "" {
		return nil, storage.ErrNotFound
	}
	for _, user := range s.users {
		if user.Username == username {
			return copyUser(user), nil
		}
	}
	return nil, storage.ErrNotFound
}

// UpdateUser see [storage.UserStore].UpdateUser.
func (s *Datastore) UpdateUser(ctx context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	for _, existing := range s.users {
		if existing.ID == user.ID {
			continue
		}
		if existing.Email == user.Email {
			return storage.ErrCollision
		}
		if user.Username != "" && existing.Username == user.Username {
			return storage.ErrCollision
		}
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

// TouchLastLogin see [storage.UserStore].TouchLastLogin.
func (s *Datastore) TouchLastLogin(ctx context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.LastLogin = when
	return nil
}

// DeleteUser see [storage.UserStore].DeleteUser. Items owned by the user and
// their join rows are removed; tags stay.
func (s *Datastore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)

	for itemID, item := range s.items {
		if item.OwnerID != id {
			continue
		}
		delete(s.items, itemID)
		for key := range s.itemTags {
			if key.itemID == itemID {
				delete(s.itemTags, key)
			}
		}
	}
	return nil
}

// ListUsers see [storage.UserStore].ListUsers.
func (s *Datastore) ListUsers(ctx context.Context, skip, limit int) ([]*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*storage.User, 0, len(s.users))
	for _, user := range s.users {
		all = append(all, copyUser(user))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return paginate(all, skip, limit), nil
}

// CountUsers see [storage.UserStore].CountUsers.
func (s *Datastore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// ListUsersByIDs see [storage.UserStore].ListUsersByIDs.
func (s *Datastore) ListUsersByIDs(ctx context.Context, ids []string) ([]*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []*storage.User
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			users = append(users, copyUser(user))
		}
	}
	return users, nil
}

// CreateItem see [storage.ItemStore].CreateItem.
func (s *Datastore) CreateItem(ctx context.Context, item *storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return storage.ErrCollision
	}
	if _, ok := s.users[item.OwnerID]; !ok {
		return storage.ErrIntegrityViolation
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

// GetItem see [storage.ItemStore].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyItem(item), nil
}

// UpdateItem see [storage.ItemStore].UpdateItem.
func (s *Datastore) UpdateItem(ctx context.Context, item *storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Title = item.Title
	existing.Description = item.Description
	return nil
}

// DeleteItem see [storage.ItemStore].DeleteItem.
func (s *Datastore) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items, id)
	for key := range s.itemTags {
		if key.itemID == id {
			delete(s.itemTags, key)
		}
	}
	return nil
}

// ListItems see [storage.ItemStore].ListItems.
func (s *Datastore) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchItems(filter)

	sort.Slice(matched, func(i, j int) bool {
		var less bool
		if filter.SortBy == "title" {
			less = matched[i].Title < matched[j].Title
		} else {
			less = matched[i].ID < matched[j].ID
		}
		if filter.SortDesc {
			return !less
		}
		return less
	})

	return paginate(matched, filter.Skip, filter.Limit), nil
}

// CountItems see [storage.ItemStore].CountItems.
func (s *Datastore) CountItems(ctx context.Context, filter storage.ItemFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchItems(filter))), nil
}

func (s *Datastore) matchItems(filter storage.ItemFilter) []*storage.Item {
	var matched []*storage.Item
	search := strings.ToLower(filter.Search)
	for _, item := range s.items {
		if filter.OwnerID != "" && item.OwnerID != filter.OwnerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Title), search) &&
			!strings.Contains(strings.ToLower(item.Description), search) {
			continue
		}
		matched = append(matched, copyItem(item))
	}
	return matched
}

// ListItemsByOwnerIDs see [storage.ItemStore].ListItemsByOwnerIDs.
func (s *Datastore) ListItemsByOwnerIDs(ctx context.Context, ownerIDs []string) (map[string][]*storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		wanted[id] = struct{}{}
	}

	result := make(map[string][]*storage.Item, len(ownerIDs))
	for _, item := range s.items {
		if _, ok := wanted[item.OwnerID]; ok {
			result[item.OwnerID] = append(result[item.OwnerID], copyItem(item))
		}
	}
	for _, items := range result {
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	}
	return result, nil
}

// CreateTag see [storage.TagStore].CreateTag.
func (s *Datastore) CreateTag(ctx context.Context, tag *storage.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[tag.ID]; ok {
		return storage.ErrCollision
	}
	for _, existing := range s.tags {
		if existing.Name == tag.Name {
			return storage.ErrCollision
		}
	}
	clone := *tag
	s.tags[tag.ID] = &clone
	return nil
}

// GetTag see [storage.TagStore].GetTag.
func (s *Datastore) GetTag(ctx context.Context, id string) (*storage.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *tag
	return &clone, nil
}

// DeleteTag see [storage.TagStore].DeleteTag. Join rows referencing the tag
// are removed; items stay.
func (s *Datastore) DeleteTag(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tags, id)
	for key := range s.itemTags {
		if key.tagID == id {
			delete(s.itemTags, key)
		}
	}
	return nil
}

// AddItemTag see [storage.TagStore].AddItemTag.
func (s *Datastore) AddItemTag(ctx context.Context, itemID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return storage.ErrIntegrityViolation
	}
	if _, ok := s.tags[tagID]; !ok {
		return storage.ErrIntegrityViolation
	}
	key := joinKey{itemID: itemID, tagID: tagID}
	if _, ok := s.itemTags[key]; ok {
		return storage.ErrCollision
	}
	s.itemTags[key] = struct{}{}
	return nil
}

// RemoveItemTag see [storage.TagStore].RemoveItemTag.
func (s *Datastore) RemoveItemTag(ctx context.Context, itemID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := joinKey{itemID: itemID, tagID: tagID}
	if _, ok := s.itemTags[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.itemTags, key)
	return nil
}

// ListTagsByItemIDs see [storage.TagStore].ListTagsByItemIDs.
func (s *Datastore) ListTagsByItemIDs(ctx context.Context, itemIDs []string) (map[string][]*storage.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = struct{}{}
	}

	result := make(map[string][]*storage.Tag, len(itemIDs))
	for key := range s.itemTags {
		if _, ok := wanted[key.itemID]; !ok {
			continue
		}
		if tag, ok := s.tags[key.tagID]; ok {
			clone := *tag
			result[key.itemID] = append(result[key.itemID], &clone)
		}
	}
	for _, tags := range result {
		sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	}
	return result, nil
}

func paginate[T any](all []T, skip, limit int) []T {
	if skip >= len(all) {
		return nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
