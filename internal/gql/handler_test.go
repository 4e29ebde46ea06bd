package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itemvault/itemvault/internal/authz"
	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/memory"
)

// countingDatastore records how many calls reach the store, per method.
type countingDatastore struct {
	storage.Datastore

	mu          sync.Mutex
	calls       map[string]int
	itemFilters []storage.ItemFilter
}

func newCountingDatastore(ds storage.Datastore) *countingDatastore {
	return &countingDatastore{Datastore: ds, calls: map[string]int{}}
}

func (c *countingDatastore) record(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.mu.Unlock()
}

func (c *countingDatastore) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *countingDatastore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *countingDatastore) GetItem(ctx context.Context, id string) (*storage.Item, error) {
	c.record("GetItem")
	return c.Datastore.GetItem(ctx, id)
}

func (c *countingDatastore) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*storage.Item, error) {
	c.record("ListItems")
	c.mu.Lock()
	c.itemFilters = append(c.itemFilters, filter)
	c.mu.Unlock()
	return c.Datastore.ListItems(ctx, filter)
}

func (c *countingDatastore) CountItems(ctx context.Context, filter storage.ItemFilter) (int64, error) {
	c.record("CountItems")
	return c.Datastore.CountItems(ctx, filter)
}

func (c *countingDatastore) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	c.record("GetUserByID")
	return c.Datastore.GetUserByID(ctx, id)
}

func (c *countingDatastore) ListUsers(ctx context.Context, skip, limit int) ([]*storage.User, error) {
	c.record("ListUsers")
	return c.Datastore.ListUsers(ctx, skip, limit)
}

func (c *countingDatastore) ListUsersByIDs(ctx context.Context, ids []string) ([]*storage.User, error) {
	c.record("ListUsersByIDs")
	return c.Datastore.ListUsersByIDs(ctx, ids)
}

func (c *countingDatastore) ListItemsByOwnerIDs(ctx context.Context, ownerIDs []string) (map[string][]*storage.Item, error) {
	c.record("ListItemsByOwnerIDs")
	return c.Datastore.ListItemsByOwnerIDs(ctx, ownerIDs)
}

func (c *countingDatastore) ListTagsByItemIDs(ctx context.Context, itemIDs []string) (map[string][]*storage.Tag, error) {
	c.record("ListTagsByItemIDs")
	return c.Datastore.ListTagsByItemIDs(ctx, itemIDs)
}

type envelope struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newTestHandler(ds storage.Datastore) *Handler {
	return NewHandler(ds, authz.NewAuthorizer(logger.NewNoopLogger()),
		NewGuard(DefaultMaxQueryDepth, DefaultMaxQueryTokens), logger.NewNoopLogger())
}

func post(t *testing.T, h *Handler, principal *authclaims.Principal, query string, vars map[string]any) envelope {
	t.Helper()

	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	if principal != nil {
		r = r.WithContext(authclaims.ContextWithPrincipal(r.Context(), principal))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var res envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func seedOwnerWithItems(t *testing.T, ds storage.Datastore, ownerID string, items int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ds.CreateUser(ctx, &storage.User{
		ID:        ownerID,
		Email:     ownerID + "@example.com",
		Username:  ownerID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))
	for i := range items {
		require.NoError(t, ds.CreateItem(ctx, &storage.Item{
			ID:      fmt.Sprintf("%s-item-%d", ownerID, i),
			Title:   fmt.Sprintf("Item %d", i),
			OwnerID: ownerID,
		}))
	}
}

// nestedQuery builds a me query whose selection tree is exactly the given
// number of field levels deep, alternating the items and owner relations.
func nestedQuery(levels int) string {
	sel := "id"
	for l := levels - 1; l >= 2; l-- {
		if l%2 == 0 {
			sel = fmt.Sprintf("items { %s }", sel)
		} else {
			sel = fmt.Sprintf("owner { %s }", sel)
		}
	}
	return fmt.Sprintf("{ me { %s } }", sel)
}

func TestQueryDepthOverLimitIsRejectedWithoutStorageAccess(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true}, nestedQuery(11), nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "query_too_complex", res.Errors[0].Extensions["code"])
	require.Nil(t, res.Data)
	require.Zero(t, ds.total(), "a rejected query must never reach the datastore")
}

func TestQueryWithinDepthLimitExecutes(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	seedOwnerWithItems(t, ds.Datastore, "user-1", 1)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true}, nestedQuery(9), nil)
	require.Empty(t, res.Errors)
	require.Contains(t, res.Data, "me")
}

func TestFragmentReachedDepthIsRejected(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	h := newTestHandler(ds)

	query := `
	query { me { ...deep } }
	fragment deep on User {
	  items { owner { items { owner { items { owner { items { owner { items { id } } } } } } } } }
	}`

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true}, query, nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "query_too_complex", res.Errors[0].Extensions["code"])
	require.Zero(t, ds.total())
}

func TestTokenBudgetIsEnforced(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	h := NewHandler(ds, authz.NewAuthorizer(logger.NewNoopLogger()),
		NewGuard(DefaultMaxQueryDepth, 10), logger.NewNoopLogger())

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		"{ me { id email username fullName isActive isAdmin } }", nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "query_too_complex", res.Errors[0].Extensions["code"])
	require.Zero(t, ds.total())
}

func TestInactivePrincipalIsDeniedEveryField(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	seedOwnerWithItems(t, ds.Datastore, "user-1", 1)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: false},
		"{ me { email } items { id } itemsCount }", nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "forbidden", res.Errors[0].Extensions["code"])
	require.Nil(t, res.Data)
	require.Zero(t, ds.total(), "a denied principal must never reach the datastore")
}

func TestFragmentAmplificationCountsAgainstTokenBudget(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	h := NewHandler(ds, authz.NewAuthorizer(logger.NewNoopLogger()),
		NewGuard(DefaultMaxQueryDepth, 150), logger.NewNoopLogger())

	// The fragment body is written once, so the raw text stays under the
	// budget; ten spreads expand it past the budget at execution time.
	fields := make([]string, 20)
	for i := range fields {
		fields[i] = fmt.Sprintf("a%d: id", i)
	}
	query := fmt.Sprintf(`
	query { me { %s } }
	fragment wide on User { %s }`,
		strings.Repeat("...wide ", 10), strings.Join(fields, " "))

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true}, query, nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "query_too_complex", res.Errors[0].Extensions["code"])
	require.Zero(t, ds.total())
}

func TestNegativeListArgumentsFallBackToDefaults(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	seedOwnerWithItems(t, ds.Datastore, "user-1", 3)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		"{ items(limit: -1, skip: -5) { id } }", nil)
	require.Empty(t, res.Errors)
	require.Len(t, ds.itemFilters, 1)
	require.Equal(t, 100, ds.itemFilters[0].Limit)
	require.Equal(t, 0, ds.itemFilters[0].Skip)
}

func TestOwnerRelationIsBatched(t *testing.T) {
	ds := newCountingDatastore(memory.New())
	for i := range 5 {
		seedOwnerWithItems(t, ds.Datastore, fmt.Sprintf("user-%d", i), 10)
	}
	h := newTestHandler(ds)

	admin := &authclaims.Principal{UserID: "user-0", IsActive: true, IsAdmin: true}
	res := post(t, h, admin, "{ items(limit: 100) { title owner { email } } }", nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Data["items"], 50)
	require.Equal(t, 1, ds.count("ListUsersByIDs"), "sibling owner loads must share one query")
}

func TestItemFieldIsGateChecked(t *testing.T) {
	ds := memory.New()
	seedOwnerWithItems(t, ds, "owner-1", 1)
	seedOwnerWithItems(t, ds, "stranger", 0)
	h := newTestHandler(ds)

	query := `query($id: ID!) { item(id: $id) { title } }`
	vars := map[string]any{"id": "owner-1-item-0"}

	res := post(t, h, &authclaims.Principal{UserID: "stranger", IsActive: true}, query, vars)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "forbidden", res.Errors[0].Extensions["code"])

	res = post(t, h, &authclaims.Principal{UserID: "stranger", IsActive: true, IsAdmin: true}, query, vars)
	require.Empty(t, res.Errors)

	res = post(t, h, &authclaims.Principal{UserID: "owner-1", IsActive: true}, query, vars)
	require.Empty(t, res.Errors)
	item, ok := res.Data["item"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Item 0", item["title"])
}

func TestItemListIsOwnerScoped(t *testing.T) {
	ds := memory.New()
	seedOwnerWithItems(t, ds, "user-1", 3)
	seedOwnerWithItems(t, ds, "user-2", 4)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		"{ items { id } itemsCount }", nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Data["items"], 3)
	require.EqualValues(t, 3, res.Data["itemsCount"])

	res = post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true, IsAdmin: true},
		"{ items { id } itemsCount }", nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Data["items"], 7)
}

func TestUsersFieldIsAdminOnly(t *testing.T) {
	ds := memory.New()
	seedOwnerWithItems(t, ds, "user-1", 0)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		"{ users { email } }", nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "forbidden", res.Errors[0].Extensions["code"])

	res = post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true, IsAdmin: true},
		"{ users { email } }", nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Data["users"], 1)
}

func TestUserFieldAllowsSelf(t *testing.T) {
	ds := memory.New()
	seedOwnerWithItems(t, ds, "user-1", 0)
	h := newTestHandler(ds)

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		`query($id: ID!) { user(id: $id) { email } }`, map[string]any{"id": "user-1"})
	require.Empty(t, res.Errors)

	res = post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		`query($id: ID!) { user(id: $id) { email } }`, map[string]any{"id": "user-2"})
	require.Len(t, res.Errors, 1)
	require.Equal(t, "forbidden", res.Errors[0].Extensions["code"])
}

func TestUnauthenticatedRequestIsRefused(t *testing.T) {
	h := newTestHandler(memory.New())

	body := bytes.NewBufferString(`{"query": "{ me { id } }"}`)
	r := httptest.NewRequest(http.MethodPost, "/graphql", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidationErrorsAreReported(t *testing.T) {
	h := newTestHandler(memory.New())

	res := post(t, h, &authclaims.Principal{UserID: "user-1", IsActive: true},
		"{ nonexistentField }", nil)
	require.NotEmpty(t, res.Errors)
	require.Nil(t, res.Data)
}
