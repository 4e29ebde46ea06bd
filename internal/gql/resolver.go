package gql

import (
	"context"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/itemvault/itemvault/internal/authz"
	"github.com/itemvault/itemvault/internal/loader"
	"github.com/itemvault/itemvault/pkg/authclaims"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

// Resolver executes validated query operations against the datastore. One
// Resolver serves all requests; per-request state (principal, loaders, the
// completion queue) lives in the executor built for each operation.
type Resolver struct {
	ds         storage.Datastore
	authorizer *authz.Authorizer
}

func NewResolver(ds storage.Datastore, authorizer *authz.Authorizer) *Resolver {
	return &Resolver{ds: ds, authorizer: authorizer}
}

// ExecuteQuery resolves a query operation breadth first: each level of the
// tree registers its relation loads before any of them is forced, so sibling
// relations collapse into single batched fetches.
func (r *Resolver) ExecuteQuery(
	ctx context.Context,
	op *ast.OperationDefinition,
	vars map[string]any,
	principal *authclaims.Principal,
	loaders *loader.Collection,
) (map[string]any, error) {
	if op.Operation != ast.Query {
		return nil, serverErrors.Validation("only query operations are supported")
	}

	// The same self check the REST handlers run before touching storage. It
	// denies inactive principals before any field resolves.
	if err := r.authorizer.Authorize(principal, principalID(principal)); err != nil {
		return nil, err
	}

	e := &executor{
		resolver:  r,
		vars:      vars,
		principal: principal,
		loaders:   loaders,
	}

	result, err := e.resolveQuery(ctx, op.SelectionSet)
	if err != nil {
		return nil, err
	}
	if err := e.drain(); err != nil {
		return nil, err
	}
	return result, nil
}

type executor struct {
	resolver  *Resolver
	vars      map[string]any
	principal *authclaims.Principal
	loaders   *loader.Collection

	// queue holds deferred relation completions. Draining one level may
	// enqueue the next; the guard's depth limit bounds the recursion.
	queue []func() error
}

func (e *executor) enqueue(fn func() error) {
	e.queue = append(e.queue, fn)
}

func (e *executor) drain() error {
	for len(e.queue) > 0 {
		level := e.queue
		e.queue = nil
		for _, fn := range level {
			if err := fn(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *executor) resolveQuery(ctx context.Context, set ast.SelectionSet) (map[string]any, error) {
	result := map[string]any{}
	for _, field := range e.collectFields(set) {
		value, err := e.resolveQueryField(ctx, field)
		if err != nil {
			return nil, err
		}
		result[aliasOf(field)] = value
	}
	return result, nil
}

func (e *executor) resolveQueryField(ctx context.Context, field *ast.Field) (any, error) {
	switch field.Name {
	case "__typename":
		return "Query", nil
	case "items":
		return e.resolveItems(ctx, field)
	case "itemsCount":
		filter := e.scopedFilter(field)
		count, err := e.resolver.ds.CountItems(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("count items: %w", err)
		}
		return count, nil
	case "item":
		return e.resolveItemByID(ctx, field)
	case "users":
		return e.resolveUsers(ctx, field)
	case "user":
		return e.resolveUserByID(ctx, field)
	case "me":
		user, err := e.resolver.ds.GetUserByID(ctx, e.principal.UserID)
		if err != nil {
			return nil, fmt.Errorf("load current user: %w", err)
		}
		return e.resolveUser(ctx, user, field.SelectionSet), nil
	default:
		return nil, serverErrors.Validation(fmt.Sprintf("unknown query field %q", field.Name))
	}
}

func (e *executor) resolveItems(ctx context.Context, field *ast.Field) (any, error) {
	filter := e.scopedFilter(field)
	filter.Skip = e.intArg(field, "skip", 0)
	filter.Limit = e.intArg(field, "limit", 100)
	filter.SortBy = e.stringArg(field, "sortBy", "")
	filter.SortDesc = e.stringArg(field, "sortOrder", "asc") == "desc"

	items, err := e.resolver.ds.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	results := make([]any, len(items))
	for i, item := range items {
		results[i] = e.resolveItem(ctx, item, field.SelectionSet)
	}
	return results, nil
}

func (e *executor) resolveItemByID(ctx context.Context, field *ast.Field) (any, error) {
	id := e.stringArg(field, "id", "")
	item, err := e.resolver.ds.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	if err := e.resolver.authorizer.Authorize(e.principal, item.OwnerID); err != nil {
		return nil, err
	}
	return e.resolveItem(ctx, item, field.SelectionSet), nil
}

func (e *executor) resolveUsers(ctx context.Context, field *ast.Field) (any, error) {
	if err := e.resolver.authorizer.AuthorizeAdmin(e.principal); err != nil {
		return nil, err
	}

	users, err := e.resolver.ds.ListUsers(ctx,
		e.intArg(field, "skip", 0), e.intArg(field, "limit", 100))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	results := make([]any, len(users))
	for i, user := range users {
		results[i] = e.resolveUser(ctx, user, field.SelectionSet)
	}
	return results, nil
}

func (e *executor) resolveUserByID(ctx context.Context, field *ast.Field) (any, error) {
	id := e.stringArg(field, "id", "")
	if e.principal == nil || id != e.principal.UserID {
		if err := e.resolver.authorizer.AuthorizeAdmin(e.principal); err != nil {
			return nil, err
		}
	}

	user, err := e.resolver.ds.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return e.resolveUser(ctx, user, field.SelectionSet), nil
}

// scopedFilter narrows list queries to the principal's own rows unless the
// principal is an admin.
func (e *executor) scopedFilter(field *ast.Field) storage.ItemFilter {
	return storage.ItemFilter{
		OwnerID: e.resolver.authorizer.ListScope(e.principal),
		Search:  e.stringArg(field, "search", ""),
	}
}

func (e *executor) resolveItem(ctx context.Context, item *storage.Item, set ast.SelectionSet) map[string]any {
	result := map[string]any{}
	for _, field := range e.collectFields(set) {
		alias := aliasOf(field)
		switch field.Name {
		case "__typename":
			result[alias] = "Item"
		case "id":
			result[alias] = item.ID
		case "title":
			result[alias] = item.Title
		case "description":
			result[alias] = nullable(item.Description)
		case "ownerId":
			result[alias] = item.OwnerID
		case "owner":
			thunk := e.loaders.OwnerByID.Load(ctx, item.OwnerID)
			sel := field.SelectionSet
			e.enqueue(func() error {
				owner, err := thunk()
				if err != nil {
					return fmt.Errorf("load item owner: %w", err)
				}
				if owner == nil {
					result[alias] = nil
					return nil
				}
				result[alias] = e.resolveUser(ctx, owner, sel)
				return nil
			})
		case "tags":
			thunk := e.loaders.TagsByItemID.Load(ctx, item.ID)
			sel := field.SelectionSet
			e.enqueue(func() error {
				tags, err := thunk()
				if err != nil {
					return fmt.Errorf("load item tags: %w", err)
				}
				resolved := make([]any, len(tags))
				for i, tag := range tags {
					resolved[i] = e.resolveTag(tag, sel)
				}
				result[alias] = resolved
				return nil
			})
		}
	}
	return result
}

func (e *executor) resolveUser(ctx context.Context, user *storage.User, set ast.SelectionSet) map[string]any {
	result := map[string]any{}
	for _, field := range e.collectFields(set) {
		alias := aliasOf(field)
		switch field.Name {
		case "__typename":
			result[alias] = "User"
		case "id":
			result[alias] = user.ID
		case "email":
			result[alias] = user.Email
		case "username":
			result[alias] = nullable(user.Username)
		case "fullName":
			result[alias] = nullable(user.FullName)
		case "isActive":
			result[alias] = user.IsActive
		case "isAdmin":
			result[alias] = user.IsAdmin
		case "items":
			thunk := e.loaders.ItemsByOwnerID.Load(ctx, user.ID)
			sel := field.SelectionSet
			e.enqueue(func() error {
				items, err := thunk()
				if err != nil {
					return fmt.Errorf("load user items: %w", err)
				}
				resolved := make([]any, len(items))
				for i, item := range items {
					resolved[i] = e.resolveItem(ctx, item, sel)
				}
				result[alias] = resolved
				return nil
			})
		}
	}
	return result
}

func (e *executor) resolveTag(tag *storage.Tag, set ast.SelectionSet) map[string]any {
	result := map[string]any{}
	for _, field := range e.collectFields(set) {
		alias := aliasOf(field)
		switch field.Name {
		case "__typename":
			result[alias] = "Tag"
		case "id":
			result[alias] = tag.ID
		case "name":
			result[alias] = tag.Name
		}
	}
	return result
}

// collectFields flattens fragment spreads and inline fragments into the
// field list they contribute to, preserving order.
func (e *executor) collectFields(set ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, selection := range set {
		switch sel := selection.(type) {
		case *ast.Field:
			fields = append(fields, sel)
		case *ast.InlineFragment:
			fields = append(fields, e.collectFields(sel.SelectionSet)...)
		case *ast.FragmentSpread:
			if sel.Definition != nil {
				fields = append(fields, e.collectFields(sel.Definition.SelectionSet)...)
			}
		}
	}
	return fields
}

func (e *executor) argValue(field *ast.Field, name string) (any, bool) {
	for _, arg := range field.Arguments {
		if arg.Name == name {
			value, err := arg.Value.Value(e.vars)
			if err != nil {
				return nil, false
			}
			return value, true
		}
	}
	return nil, false
}

func (e *executor) stringArg(field *ast.Field, name, fallback string) string {
	value, ok := e.argValue(field, name)
	if !ok {
		return fallback
	}
	s, ok := value.(string)
	if !ok {
		return fallback
	}
	return s
}

// intArg resolves an integer argument, treating negative values like an
// absent argument so pagination cannot be disabled from the query.
func (e *executor) intArg(field *ast.Field, name string, fallback int) int {
	value, ok := e.argValue(field, name)
	if !ok {
		return fallback
	}
	var n int
	switch v := value.(type) {
	case int64:
		n = int(v)
	case int:
		n = v
	case float64:
		n = int(v)
	default:
		return fallback
	}
	if n < 0 {
		return fallback
	}
	return n
}

func principalID(p *authclaims.Principal) string {
	if p == nil {
		return ""
	}
	return p.UserID
}

func aliasOf(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
