package storage

import (
	"context"
	"fmt"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// Logical table names
const (
	ApplicationTable             = "application"
	ServiceNameTable             = "service_name"
	InstanceTable                = "instance"
	AlarmContactTable            = "alarm_contact"
	ApplicationAlarmContactTable = "application_alarm_contact"
	AlarmTable                   = "alarm"
	ServiceReferenceMetricTable  = "service_reference_metric"
)

// PhysicalTable names the partition of a logical table for a step,
// e.g. service_reference_metric_minute
func PhysicalTable(step model.Step, logicalTable string) string {
	return logicalTable + "_" + string(step)
}

var registerSchema = []string{
	`CREATE TABLE IF NOT EXISTS application (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL,
		is_address BOOLEAN NOT NULL DEFAULT FALSE,
		address_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_application_code ON application(code)`,
	`CREATE TABLE IF NOT EXISTS service_name (
		id INTEGER PRIMARY KEY,
		application_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		src_span_type INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_name_application ON service_name(application_id)`,
	`CREATE TABLE IF NOT EXISTS instance (
		id INTEGER PRIMARY KEY,
		application_id INTEGER NOT NULL,
		agent_uuid TEXT NOT NULL,
		register_time BIGINT NOT NULL,
		heartbeat_time BIGINT NOT NULL,
		os_info TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS alarm_contact (
		id INTEGER PRIMARY KEY,
		email TEXT,
		phone_number TEXT,
		real_name TEXT,
		status INTEGER NOT NULL DEFAULT 0,
		create_time BIGINT NOT NULL,
		update_time BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS application_alarm_contact (
		id TEXT PRIMARY KEY,
		application_id INTEGER NOT NULL,
		alarm_contact_id INTEGER NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		create_time BIGINT NOT NULL,
		update_time BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_application_alarm_contact_application ON application_alarm_contact(application_id)`,
	`CREATE INDEX IF NOT EXISTS idx_application_alarm_contact_contact ON application_alarm_contact(alarm_contact_id)`,
	`CREATE TABLE IF NOT EXISTS alarm (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		alarm_type TEXT NOT NULL,
		application_id INTEGER NOT NULL,
		service_id INTEGER NOT NULL DEFAULT 0,
		instance_id INTEGER NOT NULL DEFAULT 0,
		alarm_content TEXT,
		time_bucket BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alarm_application ON alarm(application_id, time_bucket)`,
}

// columnUpgrade adds a column to tables created before it existed
type columnUpgrade struct {
	table      string
	column     string
	definition string
}

var columnUpgrades = []columnUpgrade{
	{ApplicationAlarmContactTable, "seq", "INTEGER NOT NULL DEFAULT 0"},
}

func metricSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			metric_id TEXT NOT NULL,
			time_bucket BIGINT NOT NULL,
			source_value INTEGER NOT NULL,
			front_application_id INTEGER NOT NULL,
			behind_application_id INTEGER NOT NULL,
			front_service_id INTEGER NOT NULL,
			behind_service_id INTEGER NOT NULL,
			transaction_calls BIGINT NOT NULL DEFAULT 0,
			transaction_error_calls BIGINT NOT NULL DEFAULT 0,
			transaction_duration_sum BIGINT NOT NULL DEFAULT 0,
			transaction_error_duration_sum BIGINT NOT NULL DEFAULT 0,
			transaction_average_duration BIGINT NOT NULL DEFAULT 0
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_time_bucket ON %s(time_bucket)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_front ON %s(front_service_id, time_bucket)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_behind ON %s(behind_service_id, time_bucket)`, table, table),
	}
}

// Migrate creates every table and index that does not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	statements := append([]string(nil), registerSchema...)
	for _, step := range model.Steps {
		statements = append(statements, metricSchema(PhysicalTable(step, ServiceReferenceMetricTable))...)
	}

	for _, stmt := range statements {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	for _, u := range columnUpgrades {
		if err := db.addColumn(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds u.column unless selecting it already succeeds
func (db *DB) addColumn(ctx context.Context, u columnUpgrade) error {
	rows, err := db.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 0", u.column, u.table))
	if err == nil {
		return rows.Close()
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", u.table, u.column, u.definition)
	if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", u.table, u.column, err)
	}
	return nil
}
