package gql

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// schemaSDL is the full read surface. Mutations stay on the REST API where
// the ownership checks are already enforced per verb.
const schemaSDL = `
type Query {
  items(skip: Int, limit: Int, search: String, sortBy: String, sortOrder: String): [Item!]!
  itemsCount(search: String): Int!
  item(id: ID!): Item
  users(skip: Int, limit: Int): [User!]!
  user(id: ID!): User
  me: User!
}

type Item {
  id: ID!
  title: String!
  description: String
  ownerId: ID!
  owner: User
  tags: [Tag!]!
}

type User {
  id: ID!
  email: String!
  username: String
  fullName: String
  isActive: Boolean!
  isAdmin: Boolean!
  items: [Item!]!
}

type Tag {
  id: ID!
  name: String!
}
`

// Schema is parsed once at startup; an invalid SDL is a programming error.
func Schema() *ast.Schema {
	return gqlparser.MustLoadSchema(&ast.Source{
		Name:  "itemvault.graphql",
		Input: schemaSDL,
	})
}
