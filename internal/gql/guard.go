package gql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/lexer"

	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
)

const (
	DefaultMaxQueryDepth  = 10
	DefaultMaxQueryTokens = 2000
)

// Guard rejects oversized queries before any resolver runs. It inspects the
// raw text and the validated document only; it performs no I/O.
type Guard struct {
	maxDepth  int
	maxTokens int
}

func NewGuard(maxDepth, maxTokens int) *Guard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxQueryDepth
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxQueryTokens
	}
	return &Guard{maxDepth: maxDepth, maxTokens: maxTokens}
}

// CheckTokens bounds the lexical size of the raw query. It runs before
// parsing so a pathological document is refused without building an AST; the
// budget is enforced again after parsing by CheckSelections, against the
// fragment-expanded document.
func (g *Guard) CheckTokens(query string) error {
	lex := lexer.New(&ast.Source{Name: "query", Input: query})
	count := 0
	for {
		tok, err := lex.ReadToken()
		if err != nil {
			// Let the parser produce the canonical syntax error.
			return nil
		}
		if tok.Kind == lexer.EOF {
			return nil
		}
		count++
		if count > g.maxTokens {
			return serverErrors.QueryTooComplex(
				fmt.Sprintf("query exceeds maximum token count %d", g.maxTokens))
		}
	}
}

// CheckDepth bounds the selection depth of one operation, counting fields
// reached through inline and named fragment spreads at the depth where the
// spread occurs.
func (g *Guard) CheckDepth(op *ast.OperationDefinition) error {
	depth := selectionDepth(op.SelectionSet, map[string]bool{})
	if depth > g.maxDepth {
		return serverErrors.QueryTooComplex(
			fmt.Sprintf("query depth %d exceeds maximum %d", depth, g.maxDepth))
	}
	return nil
}

// CheckSelections bounds the fragment-expanded size of one operation. A
// fragment spread costs two lexical tokens but contributes its whole body at
// every spread site, so the token budget must be enforced against the
// expanded selection count, not just the raw text.
func (g *Guard) CheckSelections(op *ast.OperationDefinition) error {
	if selectionCount(op.SelectionSet, map[string]bool{}, g.maxTokens) > g.maxTokens {
		return serverErrors.QueryTooComplex(
			fmt.Sprintf("query expands to more than %d selections", g.maxTokens))
	}
	return nil
}

// selectionCount counts fields with fragments expanded at each spread site.
// It stops once the budget is exceeded so a self-amplifying document cannot
// make the count itself expensive.
func selectionCount(set ast.SelectionSet, visiting map[string]bool, budget int) int {
	count := 0
	for _, selection := range set {
		if count > budget {
			return count
		}
		switch sel := selection.(type) {
		case *ast.Field:
			count += 1 + selectionCount(sel.SelectionSet, visiting, budget-count)
		case *ast.InlineFragment:
			count += selectionCount(sel.SelectionSet, visiting, budget-count)
		case *ast.FragmentSpread:
			if sel.Definition == nil || visiting[sel.Name] {
				continue
			}
			visiting[sel.Name] = true
			count += selectionCount(sel.Definition.SelectionSet, visiting, budget-count)
			delete(visiting, sel.Name)
		}
	}
	return count
}

// selectionDepth walks the selection set with fragments expanded in place.
// Fragment cycles are rejected by validation already; the visiting set makes
// the walk terminate even if one slips through.
func selectionDepth(set ast.SelectionSet, visiting map[string]bool) int {
	deepest := 0
	for _, selection := range set {
		depth := 0
		switch sel := selection.(type) {
		case *ast.Field:
			depth = 1 + selectionDepth(sel.SelectionSet, visiting)
		case *ast.InlineFragment:
			depth = selectionDepth(sel.SelectionSet, visiting)
		case *ast.FragmentSpread:
			if sel.Definition == nil || visiting[sel.Name] {
				continue
			}
			visiting[sel.Name] = true
			depth = selectionDepth(sel.Definition.SelectionSet, visiting)
			delete(visiting, sel.Name)
		}
		if depth > deepest {
			deepest = depth
		}
	}
	return deepest
}
