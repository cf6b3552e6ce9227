package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"live_sessions":      "Session directory",
		"session_attendance": "Join/leave audit trail",
		"schema_migrations":  "Migration tracking",
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

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":               "TEXT",
		"title":            "TEXT",
		"description":      "TEXT",
		"scheduled_time":   "DATETIME",
		"duration_minutes": "INTEGER",
		"status":           "TEXT",
		"host_id":          "TEXT",
		"role_access":      "TEXT",
		"max_participants": "INTEGER",
		"started_at":       "DATETIME",
		"ended_at":         "DATETIME",
	}
	if err := v.validateColumns("live_sessions", sessionColumns); err != nil {
		return fmt.Errorf("live_sessions table structure invalid: %w", err)
	}

	attendanceColumns := map[string]string{
		"id":         "TEXT",
		"session_id": "TEXT",
		"user_id":    "TEXT",
		"user_name":  "TEXT",
		"joined_at":  "DATETIME",
		"left_at":    "DATETIME",
	}
	if err := v.validateColumns("session_attendance", attendanceColumns); err != nil {
		return fmt.Errorf("session_attendance table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_live_sessions_status":    "Status filtering",
		"idx_live_sessions_scheduled": "Schedule ordering",
		"idx_live_sessions_host":      "Host lookups",
		"idx_attendance_session_user": "Open attendance lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that database constraints are enforced
// ARCHITECTURAL DISCOVERY: Requires foreign_keys to be enabled on the
// connection; the DSN from Config does that
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO session_attendance (id, session_id, user_id, joined_at)
		VALUES ('constraint-probe', 'nonexistent', 'u1', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM session_attendance WHERE id = 'constraint-probe'")
		return fmt.Errorf("foreign key constraint not enforced: session_attendance.session_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO live_sessions (id, title, scheduled_time, status, host_id)
		VALUES ('constraint-probe', 'Probe', CURRENT_TIMESTAMP, 'paused', 'u1')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM live_sessions WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: live_sessions.status")
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

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, ok := foundColumns[expectedCol]
		if !ok {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
