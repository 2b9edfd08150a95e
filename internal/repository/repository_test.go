package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/carebridge/shiftcover/internal/db"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/pkg/apperr"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(db.New(conn)), mock
}

func TestListProviders(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "name", "phone_number", "timezone", "transfer_number", "ivr_greeting",
		"on_call_start_local", "on_call_end_local", "outbound_calling", "created_at", "updated_at",
	}).AddRow(
		int64(1), "Riverside Home Care", "+61255501234", "Australia/Sydney", "+61255509999", "Thanks for calling",
		"18:00", "07:00", `{"enabled":true,"waitMinutes":15,"maxRounds":3,"messageTemplate":"reply YES"}`, now, now,
	)
	mock.ExpectQuery("(?s)SELECT .* FROM providers ORDER BY name ASC").WillReturnRows(rows)

	providers, err := repo.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders() error: %v", err)
	}
	if len(providers) != 1 {
		t.Fatalf("got %d providers, want 1", len(providers))
	}
	p := providers[0]
	if p.Name != "Riverside Home Care" {
		t.Errorf("Name = %q", p.Name)
	}
	if !p.OutboundCalling.Enabled || p.OutboundCalling.WaitMinutes != 15 {
		t.Errorf("OutboundCalling = %+v", p.OutboundCalling)
	}
	if p.OnCallWindow.StartLocal != "18:00" || p.OnCallWindow.EndLocal != "07:00" {
		t.Errorf("OnCallWindow = %+v", p.OnCallWindow)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListEmployeesScopesToProvider(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "provider_id", "display_name", "phone", "pin", "active", "outbound_call_opt_in", "created_at", "updated_at",
	}).AddRow(int64(7), int64(1), "Jamie Lee", "+61400111222", "1234", true, true, now, now)

	mock.ExpectQuery("(?s)SELECT .* FROM employees WHERE provider_id = \\? ORDER BY display_name ASC").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	employees, err := repo.ListEmployees(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListEmployees() error: %v", err)
	}
	if len(employees) != 1 || employees[0].DisplayName != "Jamie Lee" {
		t.Fatalf("got %+v", employees)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListOccurrencesByStatusFiltersOnStatus(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "provider_id", "patient_id", "assigned_employee_id",
		"scheduled_date", "start_time", "end_time", "status", "created_at", "updated_at",
	}).AddRow(int64(9), int64(2), int64(1), int64(3), nil, "2026-08-01", "18:00", "07:00", string(domain.StatusOpen), now, now)

	mock.ExpectQuery("(?s)SELECT .* FROM shift_occurrences").
		WithArgs(int64(1), string(domain.StatusOpen)).
		WillReturnRows(rows)

	occurrences, err := repo.ListOccurrencesByStatus(context.Background(), 1, domain.StatusOpen)
	if err != nil {
		t.Fatalf("ListOccurrencesByStatus() error: %v", err)
	}
	if len(occurrences) != 1 || occurrences[0].Status != domain.StatusOpen {
		t.Fatalf("got %+v", occurrences)
	}
	if occurrences[0].AssignedEmployeeID != nil {
		t.Errorf("AssignedEmployeeID = %v, want nil", occurrences[0].AssignedEmployeeID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func occurrenceRow(id int64, status domain.OccurrenceStatus, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "template_id", "provider_id", "patient_id", "assigned_employee_id",
		"scheduled_date", "start_time", "end_time", "status", "created_at", "updated_at",
	}).AddRow(id, int64(2), int64(1), int64(3), nil, "2026-08-01", "18:00", "07:00", string(status), now, now)
}

func TestCompareAndSetStatusSucceeds(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .* FROM shift_occurrences WHERE id = \\? FOR UPDATE").
		WithArgs(int64(42)).
		WillReturnRows(occurrenceRow(42, domain.StatusOpen, now))
	mock.ExpectExec("UPDATE shift_occurrences").
		WithArgs(string(domain.StatusAssigned), int64(11), "2026-08-01", "18:00", "07:00", int64(42), string(domain.StatusOpen)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	employeeID := int64(11)
	err := repo.CompareAndSetStatus(context.Background(), 42, domain.StatusOpen, domain.StatusAssigned, func(o *domain.ShiftOccurrence) {
		o.AssignedEmployeeID = &employeeID
	})
	if err != nil {
		t.Fatalf("CompareAndSetStatus() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompareAndSetStatusRaceLostOnStaleRead(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .* FROM shift_occurrences WHERE id = \\? FOR UPDATE").
		WithArgs(int64(42)).
		WillReturnRows(occurrenceRow(42, domain.StatusAssigned, now))
	mock.ExpectRollback()

	err := repo.CompareAndSetStatus(context.Background(), 42, domain.StatusOpen, domain.StatusAssigned, nil)
	if !apperr.Is(err, apperr.ErrRaceLost) {
		t.Fatalf("got %v, want ErrRaceLost", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompareAndSetStatusRaceLostOnConcurrentUpdate(t *testing.T) {
	repo, mock := newTestRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .* FROM shift_occurrences WHERE id = \\? FOR UPDATE").
		WithArgs(int64(42)).
		WillReturnRows(occurrenceRow(42, domain.StatusOpen, now))
	mock.ExpectExec("UPDATE shift_occurrences").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CompareAndSetStatus(context.Background(), 42, domain.StatusOpen, domain.StatusAssigned, nil)
	if !apperr.Is(err, apperr.ErrRaceLost) {
		t.Fatalf("got %v, want ErrRaceLost", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
