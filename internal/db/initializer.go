package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/carebridge/shiftcover/pkg/logger"
)

// InitializeDatabase applies the schema migrations and, if
// dropExisting is set, first drops every existing table (used by the
// admin CLI's `-init-db -flush` combination).
func InitializeDatabase(ctx context.Context, conn *sql.DB, dropExisting bool) error {
	log := logger.WithContext(ctx)

	if dropExisting {
		log.Warn("dropping existing tables before reinitialisation")
		if err := dropAllTables(ctx, conn); err != nil {
			return fmt.Errorf("failed to drop existing tables: %w", err)
		}
	}

	log.Info("applying schema migrations")
	if err := RunMigrations(conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info("database initialization completed")
	return nil
}

func dropAllTables(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}

	rows, err := conn.QueryContext(ctx, `
        SELECT table_name
        FROM information_schema.tables
        WHERE table_schema = DATABASE()
    `)
	if err != nil {
		return err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			continue
		}
		tables = append(tables, tableName)
	}

	for _, table := range tables {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("table", table).Warn("failed to drop table")
		}
	}

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		return err
	}

	return nil
}

// InsertSampleData seeds a demo provider with employees, a patient,
// a shift template, and an upcoming occurrence, skipping silently if
// the providers table already has rows.
func InsertSampleData(ctx context.Context, conn *sql.DB) error {
	log := logger.WithContext(ctx)

	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&count); err == nil && count > 0 {
		log.Info("sample data already present, skipping")
		return nil
	}

	statements := []string{
		`INSERT INTO providers (name, phone_number, timezone, transfer_number, ivr_greeting, on_call_start_local, on_call_end_local, outbound_calling)
         VALUES ('Riverside Home Care', '+61282345678', 'Australia/Sydney', '+61291234567', 'Thanks for calling Riverside after-hours support.', '18:00', '07:00',
                 JSON_OBJECT('enabled', true, 'waitMinutes', 15, 'maxRounds', 3, 'messageTemplate', 'Hi {employeeName}, can you cover {patientName} on {date} {startTime}-{endTime}? Reply YES to accept.'))`,
		`INSERT INTO employees (provider_id, display_name, phone, pin, active, outbound_call_opt_in) VALUES
            (1, 'Alex Nguyen', '+61491570006', '4412', 1, 1),
            (1, 'Priya Das', '+61400111222', '7731', 1, 1),
            (1, 'Sam Carter', '+61400333444', '9123', 1, 1),
            (1, 'Jo Walsh', '+61400555666', '2090', 1, 1)`,
		`INSERT INTO patients (provider_id, display_name, phone, dob, staff_pool) VALUES
            (1, 'Margaret S.', '+61400777888', '1941-03-02', JSON_ARRAY(2,3,4))`,
		`INSERT INTO shift_templates (provider_id, patient_id, default_employee_id, job_code, window_start, window_end)
         VALUES (1, 1, 1, 'AB12', '06:00', '22:00')`,
		`INSERT INTO shift_occurrences (template_id, provider_id, patient_id, assigned_employee_id, scheduled_date, start_time, end_time, status)
         VALUES (1, 1, 1, 1, DATE_ADD(CURDATE(), INTERVAL 1 DAY), '14:00', '18:00', 'Scheduled')`,
	}

	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			log.WithError(err).Warn("failed to insert sample data statement")
		}
	}

	log.Info("sample data added")
	return nil
}
