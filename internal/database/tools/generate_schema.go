package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"guidesync/internal/database"
	"guidesync/internal/database/migrations"
)

// Regenerates internal/database/schema.go by applying every migration to
// an in-memory store and extracting the resulting CREATE statements.
func main() {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	schema, err := extractSchema(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to extract schema: %v\n", err)
		os.Exit(1)
	}

	outPath := filepath.Join("internal", "database", "schema.go")
	src := "// Code generated from migration files by internal/database/tools/generate_schema.go. DO NOT EDIT.\n\n" +
		"package database\n\n" +
		"// Schema is the full current schema, equivalent to applying every\n" +
		"// migration to an empty store. Tests use it to seed in-memory databases\n" +
		"// without pulling in the migration machinery.\n" +
		"const Schema = `\n" + schema + "`\n"

	if err := os.WriteFile(outPath, []byte(src), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s from migrations\n", outPath)
}

// extractSchema pulls all CREATE statements from sqlite_master, excluding
// SQLite internals and the migration tracking table.
func extractSchema(db *sql.DB) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY rowid
	`

	rows, err := db.Query(query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var schema string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		schema += stmt + "\n\n"
	}
	return schema, rows.Err()
}
