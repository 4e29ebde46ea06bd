package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/itemvault/itemvault/internal/authn"
	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/server/config"
	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/memory"
)

const testSecret = "itemvault-test-secret"

func newTestServer(t *testing.T) (*Server, storage.Datastore) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Authn.Method = authn.ModeJWT
	cfg.Authn.JWT.SharedSecret = testSecret
	cfg.Metrics.Enabled = false
	require.NoError(t, cfg.Verify())

	ds := memory.New()
	return New(cfg, ds, logger.NewNoopLogger()), ds
}

func seedUser(t *testing.T, ds storage.Datastore, id string, admin, active bool) {
	t.Helper()
	require.NoError(t, ds.CreateUser(context.Background(), &storage.User{
		ID:        id,
		Email:     id + "@example.com",
		Username:  id,
		IsActive:  active,
		IsAdmin:   admin,
		CreatedAt: time.Now().UTC(),
	}))
}

func seedItem(t *testing.T, ds storage.Datastore, id, ownerID string) {
	t.Helper()
	require.NoError(t, ds.CreateItem(context.Background(), &storage.Item{
		ID:      id,
		Title:   "Item " + id,
		OwnerID: ownerID,
	}))
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func doRequest(t *testing.T, s *Server, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	if userID != "" {
		r.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestItemAccessMatrix(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "owner", false, true)
	seedUser(t, ds, "stranger", false, true)
	seedUser(t, ds, "admin", true, true)
	seedUser(t, ds, "inactive-owner", false, false)
	seedItem(t, ds, "item-1", "owner")
	seedItem(t, ds, "item-2", "inactive-owner")

	tests := []struct {
		name   string
		userID string
		path   string
		want   int
	}{
		{"owner_reads_own_item", "owner", "/api/v1/items/item-1", http.StatusOK},
		{"stranger_is_forbidden", "stranger", "/api/v1/items/item-1", http.StatusForbidden},
		{"admin_reads_any_item", "admin", "/api/v1/items/item-1", http.StatusOK},
		{"inactive_owner_is_forbidden", "inactive-owner", "/api/v1/items/item-2", http.StatusForbidden},
		{"anonymous_is_unauthenticated", "", "/api/v1/items/item-1", http.StatusUnauthorized},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, test.path, test.userID, nil)
			require.Equal(t, test.want, w.Code)
		})
	}
}

func TestItemListIsOwnerScoped(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)
	seedUser(t, ds, "user-2", false, true)
	seedUser(t, ds, "admin", true, true)
	for i := range 3 {
		seedItem(t, ds, fmt.Sprintf("a-%d", i), "user-1")
	}
	for i := range 4 {
		seedItem(t, ds, fmt.Sprintf("b-%d", i), "user-2")
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/items", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res itemListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Data, 3)
	require.EqualValues(t, 3, res.Count)

	w = doRequest(t, s, http.MethodGet, "/api/v1/items", "admin", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Data, 7)
}

func TestItemLifecycle(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)

	w := doRequest(t, s, http.MethodPost, "/api/v1/items", "user-1",
		map[string]string{"title": "Field Notes", "description": "pocket"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created itemPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "user-1", created.OwnerID)

	w = doRequest(t, s, http.MethodPut, "/api/v1/items/"+created.ID, "user-1",
		map[string]string{"title": "Field Notes v2"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/v1/items/"+created.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/v1/items/"+created.ID, "user-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateItemRequiresTitle(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)

	w := doRequest(t, s, http.MethodPost, "/api/v1/items", "user-1",
		map[string]string{"description": "no title"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserRoutesAreAdminOnly(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)
	seedUser(t, ds, "admin", true, true)

	w := doRequest(t, s, http.MethodGet, "/api/v1/users", "user-1", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/v1/users", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/v1/users", "admin",
		map[string]any{"email": "new@example.com", "password": "s3cret", "is_admin": false})
	require.Equal(t, http.StatusCreated, w.Code)
	var created userPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.IsActive)

	stored, err := ds.GetUserByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, stored.HashedPassword)
	require.NotEqual(t, "s3cret", stored.HashedPassword)
}

func TestMeEndpoint(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)

	w := doRequest(t, s, http.MethodGet, "/api/v1/users/me", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me userPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "user-1", me.ID)

	fullName := "Jane Doe"
	w = doRequest(t, s, http.MethodPut, "/api/v1/users/me", "user-1",
		map[string]string{"full_name": fullName})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := ds.GetUserByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, fullName, stored.FullName)
}

func TestDeleteUserCascadesItems(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "admin", true, true)
	seedUser(t, ds, "user-1", false, true)
	seedItem(t, ds, "item-1", "user-1")

	w := doRequest(t, s, http.MethodDelete, "/api/v1/users/user-1", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := ds.GetItem(context.Background(), "item-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdminCannotDeleteThemselves(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "admin", true, true)

	w := doRequest(t, s, http.MethodDelete, "/api/v1/users/admin", "admin", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTagAttachDetachAndCascade(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)
	seedUser(t, ds, "admin", true, true)
	seedItem(t, ds, "item-1", "user-1")

	w := doRequest(t, s, http.MethodPost, "/api/v1/tags", "user-1",
		map[string]string{"name": "notebooks"})
	require.Equal(t, http.StatusCreated, w.Code)
	var tag tagPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tag))

	w = doRequest(t, s, http.MethodPut, "/api/v1/items/item-1/tags/"+tag.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ctx := context.Background()
	tags, err := ds.ListTagsByItemIDs(ctx, []string{"item-1"})
	require.NoError(t, err)
	require.Len(t, tags["item-1"], 1)

	// Deleting the item removes the join rows but the tag survives.
	w = doRequest(t, s, http.MethodDelete, "/api/v1/items/item-1", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err = ds.GetTag(ctx, tag.ID)
	require.NoError(t, err)

	w = doRequest(t, s, http.MethodDelete, "/api/v1/tags/"+tag.ID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzNeedsNoCredentials(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGraphQLIsMounted(t *testing.T) {
	s, ds := newTestServer(t)
	seedUser(t, ds, "user-1", false, true)
	seedItem(t, ds, "item-1", "user-1")

	w := doRequest(t, s, http.MethodPost, "/graphql", "user-1",
		map[string]string{"query": "{ items { title owner { email } } }"})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Data struct {
			Items []struct {
				Title string `json:"title"`
				Owner struct {
					Email string `json:"email"`
				} `json:"owner"`
			} `json:"items"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Empty(t, res.Errors)
	require.Len(t, res.Data.Items, 1)
	require.Equal(t, "user-1@example.com", res.Data.Items[0].Owner.Email)
}
