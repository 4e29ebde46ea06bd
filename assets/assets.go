package assets

import "embed"

const (
	SqliteMigrationDir   = "migrations/sqlite"
	PostgresMigrationDir = "migrations/postgres"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
