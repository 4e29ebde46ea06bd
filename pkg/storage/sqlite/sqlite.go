package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/itemvault/itemvault/internal/build"
	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/migrate"
	"github.com/itemvault/itemvault/pkg/storage/sqlcommon"
	"github.com/itemvault/itemvault/pkg/telemetry"
)

var tracer = otel.Tracer("itemvault/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// traceSQLError maps the driver error to a storage sentinel and records it on
// the active span.
func traceSQLError(ctx context.Context, err error) error {
	err = HandleSQLError(err)
	telemetry.TraceError(trace.SpanFromContext(ctx), err)
	return err
}

// Datastore provides a SQLite based implementation of [storage.Datastore].
type Datastore struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
}

var _ storage.Datastore = (*Datastore)(nil)

// PrepareDSN prepares a raw DSN from config for use with SQLite, specifying
// defaults for journal mode and busy timeout. Foreign key enforcement is
// forced on because the cascade contract between users, items and tags lives
// in the schema.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	foundForeignKeys := false
	for _, val := range query["_pragma"] {
		switch {
		case strings.HasPrefix(val, "journal_mode"):
			foundJournalMode = true
		case strings.HasPrefix(val, "busy_timeout"):
			foundBusyTimeout = true
		case strings.HasPrefix(val, "foreign_keys"):
			foundForeignKeys = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}
	if !foundForeignKeys {
		query.Add("_pragma", "foreign_keys(1)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	sqlcommon.ApplyPoolSettings(db, cfg)

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, "itemvault")
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return &Datastore{
		stbl:             sq.StatementBuilder.RunWith(db),
		db:               db,
		logger:           cfg.Logger,
		dbStatsCollector: collector,
	}, nil
}

// Close see [storage.Datastore].Close.
func (s *Datastore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	_ = s.db.Close()
}

// Ready see [storage.Datastore].Ready. Besides connectivity it verifies the
// schema is at a revision the server supports.
func (s *Datastore) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return err
	}

	revision, err := migrate.CurrentVersion(ctx, s.db, "sqlite")
	if err != nil {
		return err
	}
	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return fmt.Errorf("datastore schema revision %d is older than the minimum supported revision %d, run 'itemvault migrate'",
			revision, build.MinimumSupportedDatastoreSchemaRevision)
	}
	return nil
}

var userColumns = []string{
	"id", "email", "username", "full_name", "hashed_password",
	"oauth_provider", "external_id", "is_active", "is_admin",
	"created_at", "last_login",
}

func scanUser(row sq.RowScanner) (*storage.User, error) {
	var user storage.User
	var username, fullName, hashedPassword, oauthProvider, externalID sql.NullString
	err := row.Scan(
		&user.ID, &user.Email, &username, &fullName, &hashedPassword,
		&oauthProvider, &externalID, &user.IsActive, &user.IsAdmin,
		&user.CreatedAt, &user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	user.Username = username.String
	user.FullName = fullName.String
	user.HashedPassword = hashedPassword.String
	user.OAuthProvider = oauthProvider.String
	user.ExternalID = externalID.String
	return &user, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateUser see [storage.UserStore].CreateUser.
func (s *Datastore) CreateUser(ctx context.Context, user *storage.User) error {
	ctx, span := startTrace(ctx, "CreateUser")
	defer span.End()

	_, err := s.stbl.
		Insert("users").
		Columns(userColumns...).
		Values(
			user.ID, user.Email, nullStr(user.Username), nullStr(user.FullName),
			nullStr(user.HashedPassword), nullStr(user.OAuthProvider),
			nullStr(user.ExternalID), user.IsActive, user.IsAdmin,
			user.CreatedAt, user.LastLogin,
		).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return nil
}

func (s *Datastore) getUserBy(ctx context.Context, pred sq.Eq) (*storage.User, error) {
	row := s.stbl.
		Select(userColumns...).
		From("users").
		Where(pred).
		QueryRowContext(ctx)

	user, err := scanUser(row)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return user, nil
}

// GetUserByID see [storage.UserStore].GetUserByID.
func (s *Datastore) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	ctx, span := startTrace(ctx, "GetUserByID")
	defer span.End()

	return s.getUserBy(ctx, sq.Eq{"id": id})
}

// GetUserByEmail see [storage.UserStore].GetUserByEmail.
func (s *Datastore) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	ctx, span := startTrace(ctx, "GetUserByEmail")
	defer span.End()

	return s.getUserBy(ctx, sq.Eq{"email": email})
}

// GetUserByUsername see [storage.UserStore].GetUserByUsername.
func (s *Datastore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	ctx, span := startTrace(ctx, "GetUserByUsername")
	defer span.End()

	return s.getUserBy(ctx, sq.Eq{"username": username})
}

// UpdateUser see [storage.UserStore].UpdateUser.
func (s *Datastore) UpdateUser(ctx context.Context, user *storage.User) error {
	ctx, span := startTrace(ctx, "UpdateUser")
	defer span.End()

	res, err := s.stbl.
		Update("users").
		Set("email", user.Email).
		Set("username", nullStr(user.Username)).
		Set("full_name", nullStr(user.FullName)).
		Set("hashed_password", nullStr(user.HashedPassword)).
		Set("oauth_provider", nullStr(user.OAuthProvider)).
		Set("external_id", nullStr(user.ExternalID)).
		Set("is_active", user.IsActive).
		Set("is_admin", user.IsAdmin).
		Set("last_login", user.LastLogin).
		Where(sq.Eq{"id": user.ID}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// TouchLastLogin see [storage.UserStore].TouchLastLogin.
func (s *Datastore) TouchLastLogin(ctx context.Context, id string, when time.Time) error {
	ctx, span := startTrace(ctx, "TouchLastLogin")
	defer span.End()

	res, err := s.stbl.
		Update("users").
		Set("last_login", when).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// DeleteUser see [storage.UserStore].DeleteUser. The ON DELETE CASCADE on
// items.owner_id removes the user's items in the same transaction.
func (s *Datastore) DeleteUser(ctx context.Context, id string) error {
	ctx, span := startTrace(ctx, "DeleteUser")
	defer span.End()

	res, err := s.stbl.
		Delete("users").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// ListUsers see [storage.UserStore].ListUsers.
func (s *Datastore) ListUsers(ctx context.Context, skip, limit int) ([]*storage.User, error) {
	ctx, span := startTrace(ctx, "ListUsers")
	defer span.End()

	rows, err := s.stbl.
		Select(userColumns...).
		From("users").
		OrderBy("created_at", "id").
		Offset(uint64(skip)).
		Limit(uint64(limit)).
		QueryContext(ctx)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, traceSQLError(ctx, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return users, nil
}

// CountUsers see [storage.UserStore].CountUsers.
func (s *Datastore) CountUsers(ctx context.Context) (int64, error) {
	ctx, span := startTrace(ctx, "CountUsers")
	defer span.End()

	var count int64
	err := s.stbl.
		Select("COUNT(*)").
		From("users").
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, traceSQLError(ctx, err)
	}
	return count, nil
}

// ListUsersByIDs see [storage.UserStore].ListUsersByIDs.
func (s *Datastore) ListUsersByIDs(ctx context.Context, ids []string) ([]*storage.User, error) {
	ctx, span := startTrace(ctx, "ListUsersByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.stbl.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": ids}).
		QueryContext(ctx)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, traceSQLError(ctx, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return users, nil
}

var itemColumns = []string{"id", "title", "description", "owner_id"}

func scanItem(row sq.RowScanner) (*storage.Item, error) {
	var item storage.Item
	var description sql.NullString
	if err := row.Scan(&item.ID, &item.Title, &description, &item.OwnerID); err != nil {
		return nil, err
	}
	item.Description = description.String
	return &item, nil
}

// CreateItem see [storage.ItemStore].CreateItem.
func (s *Datastore) CreateItem(ctx context.Context, item *storage.Item) error {
	ctx, span := startTrace(ctx, "CreateItem")
	defer span.End()

	_, err := s.stbl.
		Insert("items").
		Columns(itemColumns...).
		Values(item.ID, item.Title, nullStr(item.Description), item.OwnerID).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return nil
}

// GetItem see [storage.ItemStore].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*storage.Item, error) {
	ctx, span := startTrace(ctx, "GetItem")
	defer span.End()

	row := s.stbl.
		Select(itemColumns...).
		From("items").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)

	item, err := scanItem(row)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return item, nil
}

// UpdateItem see [storage.ItemStore].UpdateItem.
func (s *Datastore) UpdateItem(ctx context.Context, item *storage.Item) error {
	ctx, span := startTrace(ctx, "UpdateItem")
	defer span.End()

	res, err := s.stbl.
		Update("items").
		Set("title", item.Title).
		Set("description", nullStr(item.Description)).
		Where(sq.Eq{"id": item.ID}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// DeleteItem see [storage.ItemStore].DeleteItem. The join table cascades on
// item deletion; tag rows are left untouched.
func (s *Datastore) DeleteItem(ctx context.Context, id string) error {
	ctx, span := startTrace(ctx, "DeleteItem")
	defer span.End()

	res, err := s.stbl.
		Delete("items").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

func applyItemFilter(builder sq.SelectBuilder, filter storage.ItemFilter) sq.SelectBuilder {
	if filter.OwnerID != "" {
		builder = builder.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		builder = builder.Where(sq.Or{
			sq.Like{"title": pattern},
			sq.Like{"description": pattern},
		})
	}
	return builder
}

// ListItems see [storage.ItemStore].ListItems.
func (s *Datastore) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*storage.Item, error) {
	ctx, span := startTrace(ctx, "ListItems")
	defer span.End()

	sortBy := "id"
	if filter.SortBy == "title" {
		sortBy = "title"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	builder := applyItemFilter(s.stbl.Select(itemColumns...).From("items"), filter).
		OrderBy(sortBy + " " + direction)
	if filter.Skip > 0 {
		builder = builder.Offset(uint64(filter.Skip))
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	rows, err := builder.QueryContext(ctx)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	defer rows.Close()

	var items []*storage.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, traceSQLError(ctx, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return items, nil
}

// CountItems see [storage.ItemStore].CountItems.
func (s *Datastore) CountItems(ctx context.Context, filter storage.ItemFilter) (int64, error) {
	ctx, span := startTrace(ctx, "CountItems")
	defer span.End()

	var count int64
	err := applyItemFilter(s.stbl.Select("COUNT(*)").From("items"), filter).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, traceSQLError(ctx, err)
	}
	return count, nil
}

// ListItemsByOwnerIDs see [storage.ItemStore].ListItemsByOwnerIDs.
func (s *Datastore) ListItemsByOwnerIDs(ctx context.Context, ownerIDs []string) (map[string][]*storage.Item, error) {
	ctx, span := startTrace(ctx, "ListItemsByOwnerIDs")
	defer span.End()

	result := make(map[string][]*storage.Item, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return result, nil
	}

	rows, err := s.stbl.
		Select(itemColumns...).
		From("items").
		Where(sq.Eq{"owner_id": ownerIDs}).
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, traceSQLError(ctx, err)
		}
		result[item.OwnerID] = append(result[item.OwnerID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return result, nil
}

// CreateTag see [storage.TagStore].CreateTag.
func (s *Datastore) CreateTag(ctx context.Context, tag *storage.Tag) error {
	ctx, span := startTrace(ctx, "CreateTag")
	defer span.End()

	_, err := s.stbl.
		Insert("tags").
		Columns("id", "name").
		Values(tag.ID, tag.Name).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return nil
}

// GetTag see [storage.TagStore].GetTag.
func (s *Datastore) GetTag(ctx context.Context, id string) (*storage.Tag, error) {
	ctx, span := startTrace(ctx, "GetTag")
	defer span.End()

	var tag storage.Tag
	err := s.stbl.
		Select("id", "name").
		From("tags").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx).
		Scan(&tag.ID, &tag.Name)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return &tag, nil
}

// DeleteTag see [storage.TagStore].DeleteTag.
func (s *Datastore) DeleteTag(ctx context.Context, id string) error {
	ctx, span := startTrace(ctx, "DeleteTag")
	defer span.End()

	res, err := s.stbl.
		Delete("tags").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// AddItemTag see [storage.TagStore].AddItemTag.
func (s *Datastore) AddItemTag(ctx context.Context, itemID, tagID string) error {
	ctx, span := startTrace(ctx, "AddItemTag")
	defer span.End()

	_, err := s.stbl.
		Insert("item_tags").
		Columns("item_id", "tag_id").
		Values(itemID, tagID).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return nil
}

// RemoveItemTag see [storage.TagStore].RemoveItemTag.
func (s *Datastore) RemoveItemTag(ctx context.Context, itemID, tagID string) error {
	ctx, span := startTrace(ctx, "RemoveItemTag")
	defer span.End()

	res, err := s.stbl.
		Delete("item_tags").
		Where(sq.Eq{"item_id": itemID, "tag_id": tagID}).
		ExecContext(ctx)
	if err != nil {
		return traceSQLError(ctx, err)
	}
	return requireRowAffected(ctx, res)
}

// ListTagsByItemIDs see [storage.TagStore].ListTagsByItemIDs.
func (s *Datastore) ListTagsByItemIDs(ctx context.Context, itemIDs []string) (map[string][]*storage.Tag, error) {
	ctx, span := startTrace(ctx, "ListTagsByItemIDs")
	defer span.End()

	result := make(map[string][]*storage.Tag, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.stbl.
		Select("it.item_id", "t.id", "t.name").
		From("item_tags it").
		Join("tags t ON t.id = it.tag_id").
		Where(sq.Eq{"it.item_id": itemIDs}).
		OrderBy("t.name").
		QueryContext(ctx)
	if err != nil {
		return nil, traceSQLError(ctx, err)
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var tag storage.Tag
		if err := rows.Scan(&itemID, &tag.ID, &tag.Name); err != nil {
			return nil, traceSQLError(ctx, err)
		}
		result[itemID] = append(result[itemID], &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, traceSQLError(ctx, err)
	}
	return result, nil
}

func requireRowAffected(ctx context.Context, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return traceSQLError(ctx, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HandleSQLError processes specific errors of the sqlite driver, mapping them
// to the storage sentinel errors.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return storage.ErrCancelled
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_TRIGGER:
			return storage.ErrIntegrityViolation
		}
		if sqliteErr.Code()&0xFF == sqlite3.SQLITE_CONSTRAINT {
			return storage.ErrCollision
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
