package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies the live database matches what the poll
// repository expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every structural check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"polls":             "Poll records",
		"poll_options":      "Option tallies",
		"poll_voters":       "Voter sets",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types match the repository's scans
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"polls": {
			"id":         "TEXT",
			"question":   "TEXT",
			"is_active":  "INTEGER",
			"created_at": "DATETIME",
		},
		"poll_options": {
			"poll_id":   "TEXT",
			"option_id": "TEXT",
			"position":  "INTEGER",
			"text":      "TEXT",
			"votes":     "INTEGER",
		},
		"poll_voters": {
			"poll_id":  "TEXT",
			"voter_id": "TEXT",
			"position": "INTEGER",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all ordering indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := []string{
		"idx_polls_active",
		"idx_poll_options_position",
		"idx_poll_voters_position",
	}

	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
