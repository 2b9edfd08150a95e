// Package repository is the single point of truth for reading and
// writing providers, employees, patients, shift templates, occurrences,
// and call logs. Status changes on a shift occurrence are always
// made through CompareAndSetStatus, a locked SELECT...FOR UPDATE plus
// conditional UPDATE that is the sole path by which an occurrence's
// status can change underneath a concurrent call.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/carebridge/shiftcover/internal/db"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

// Repository wraps the shared database connection and exposes the
// read/write operations the telephony, wave, outbound, and arbiter
// components need. It holds a *db.DB rather than a bare *sql.DB so
// CompareAndSetStatus can run its transaction through the same
// connection every other method on this Repository uses, instead of
// reaching for the package-level db.GetDB() singleton.
type Repository struct {
	conn *db.DB
}

func New(conn *db.DB) *Repository {
	return &Repository{conn: conn}
}

func NewFromDefault() *Repository {
	return &Repository{conn: db.GetDB()}
}

// ---- providers ----

const providerColumns = `id, name, phone_number, timezone, transfer_number, ivr_greeting,
               on_call_start_local, on_call_end_local, outbound_calling,
               created_at, updated_at`

func scanProvider(row *sql.Row) (*domain.Provider, error) {
	p := &domain.Provider{}
	err := row.Scan(
		&p.ID, &p.Name, &p.PhoneNumber, &p.Timezone, &p.TransferNumber, &p.IVRGreeting,
		&p.OnCallStart, &p.OnCallEnd, &p.OutboundCalling,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "provider not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query provider")
	}
	p.OnCallWindow = domain.OnCallWindow{StartLocal: p.OnCallStart, EndLocal: p.OnCallEnd}
	return p, nil
}

func (r *Repository) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers WHERE id = ?`
	return scanProvider(r.conn.QueryRowContext(ctx, q, id))
}

// FindProviderByPhone resolves the DNIS a call arrives on to its
// owning provider — the tenancy anchor for every phase of the Call
// FSM that follows.
func (r *Repository) FindProviderByPhone(ctx context.Context, phoneNumber string) (*domain.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers WHERE phone_number = ?`
	return scanProvider(r.conn.QueryRowContext(ctx, q, phoneNumber))
}

// ListProviders returns every provider, ordered by name, for the
// admin CLI's `provider list`.
func (r *Repository) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers ORDER BY name ASC`

	rows, err := r.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query providers")
	}
	defer rows.Close()

	var out []domain.Provider
	for rows.Next() {
		p := domain.Provider{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.PhoneNumber, &p.Timezone, &p.TransferNumber, &p.IVRGreeting,
			&p.OnCallStart, &p.OnCallEnd, &p.OutboundCalling,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to scan provider row")
		}
		p.OnCallWindow = domain.OnCallWindow{StartLocal: p.OnCallStart, EndLocal: p.OnCallEnd}
		out = append(out, p)
	}
	return out, nil
}

// ---- employees ----

// FindEmployeeByPhone authenticates the first collected-caller-ID path
// described by the external interface: a caller whose phone number
// matches an active employee skips PIN entry. If several active
// employees share the number, the first row the query returns is used.
func (r *Repository) FindEmployeeByPhone(ctx context.Context, providerID int64, phone string) (*domain.Employee, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, pin, active, outbound_call_opt_in, created_at, updated_at
        FROM employees WHERE provider_id = ? AND phone = ? AND active = 1`

	e := &domain.Employee{}
	err := r.conn.QueryRowContext(ctx, q, providerID, phone).Scan(
		&e.ID, &e.ProviderID, &e.DisplayName, &e.Phone, &e.Pin, &e.Active, &e.OutboundCallOptIn,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "no employee matches caller phone")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query employee by phone")
	}
	return e, nil
}

// FindEmployeeByPin falls back to PIN authentication when caller ID
// doesn't resolve uniquely, scoped to a single provider.
func (r *Repository) FindEmployeeByPin(ctx context.Context, providerID int64, pin string) (*domain.Employee, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, pin, active, outbound_call_opt_in, created_at, updated_at
        FROM employees WHERE provider_id = ? AND pin = ? AND active = 1`

	e := &domain.Employee{}
	err := r.conn.QueryRowContext(ctx, q, providerID, pin).Scan(
		&e.ID, &e.ProviderID, &e.DisplayName, &e.Phone, &e.Pin, &e.Active, &e.OutboundCallOptIn,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "no employee matches PIN")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query employee by PIN")
	}
	return e, nil
}

// FindEmployeeByPhoneAnyProvider looks up an employee by phone alone,
// for inbound channels (SMS replies) that arrive with no provider
// context to scope the lookup by.
func (r *Repository) FindEmployeeByPhoneAnyProvider(ctx context.Context, phone string) (*domain.Employee, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, pin, active, outbound_call_opt_in, created_at, updated_at
        FROM employees WHERE phone = ? AND active = 1`

	e := &domain.Employee{}
	err := r.conn.QueryRowContext(ctx, q, phone).Scan(
		&e.ID, &e.ProviderID, &e.DisplayName, &e.Phone, &e.Pin, &e.Active, &e.OutboundCallOptIn,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "no employee matches phone")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query employee by phone")
	}
	return e, nil
}

func (r *Repository) GetEmployee(ctx context.Context, id int64) (*domain.Employee, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, pin, active, outbound_call_opt_in, created_at, updated_at
        FROM employees WHERE id = ?`

	e := &domain.Employee{}
	err := r.conn.QueryRowContext(ctx, q, id).Scan(
		&e.ID, &e.ProviderID, &e.DisplayName, &e.Phone, &e.Pin, &e.Active, &e.OutboundCallOptIn,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "employee not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query employee")
	}
	return e, nil
}

// ListEmployees returns every employee for a provider, ordered by
// name, for the admin CLI's `employee list`.
func (r *Repository) ListEmployees(ctx context.Context, providerID int64) ([]domain.Employee, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, pin, active, outbound_call_opt_in, created_at, updated_at
        FROM employees WHERE provider_id = ? ORDER BY display_name ASC`

	rows, err := r.conn.QueryContext(ctx, q, providerID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query employees")
	}
	defer rows.Close()

	var out []domain.Employee
	for rows.Next() {
		e := domain.Employee{}
		if err := rows.Scan(
			&e.ID, &e.ProviderID, &e.DisplayName, &e.Phone, &e.Pin, &e.Active, &e.OutboundCallOptIn,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to scan employee row")
		}
		out = append(out, e)
	}
	return out, nil
}

// ---- shift templates ----

// FindShiftTemplate resolves a spoken job code to a template within a
// provider, the anchor for the occurrence-select phase.
func (r *Repository) FindShiftTemplate(ctx context.Context, providerID int64, jobCode string) (*domain.ShiftTemplate, error) {
	const q = `
        SELECT id, provider_id, patient_id, default_employee_id, job_code, window_start, window_end, created_at, updated_at
        FROM shift_templates WHERE provider_id = ? AND LOWER(job_code) = LOWER(?)`

	t := &domain.ShiftTemplate{}
	err := r.conn.QueryRowContext(ctx, q, providerID, jobCode).Scan(
		&t.ID, &t.ProviderID, &t.PatientID, &t.DefaultEmployeeID, &t.JobCode,
		&t.WindowStart, &t.WindowEnd, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "no shift template matches job code").WithContext("jobCode", jobCode)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query shift template")
	}
	return t, nil
}

// GetShiftTemplate loads a template by id, used to validate a
// reschedule's new time against the template's coverage window.
func (r *Repository) GetShiftTemplate(ctx context.Context, id int64) (*domain.ShiftTemplate, error) {
	const q = `
        SELECT id, provider_id, patient_id, default_employee_id, job_code, window_start, window_end, created_at, updated_at
        FROM shift_templates WHERE id = ?`

	t := &domain.ShiftTemplate{}
	err := r.conn.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.ProviderID, &t.PatientID, &t.DefaultEmployeeID, &t.JobCode,
		&t.WindowStart, &t.WindowEnd, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "shift template not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query shift template by id")
	}
	return t, nil
}

// ---- patients ----

func (r *Repository) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	const q = `
        SELECT id, provider_id, display_name, phone, dob, staff_pool, created_at, updated_at
        FROM patients WHERE id = ?`

	p := &domain.Patient{}
	err := r.conn.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.ProviderID, &p.DisplayName, &p.Phone, &p.DOB, &p.StaffPool,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "patient not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query patient")
	}
	return p, nil
}

// ---- shift occurrences ----

// ListUpcomingOccurrencesForEmployee backs the occurrence-select phase:
// the caller's currently-assigned, not-yet-started shifts under this
// template, nearest first.
func (r *Repository) ListUpcomingOccurrencesForEmployee(ctx context.Context, employeeID, templateID int64) ([]domain.ShiftOccurrence, error) {
	const q = `
        SELECT id, template_id, provider_id, patient_id, assigned_employee_id,
               scheduled_date, start_time, end_time, status, created_at, updated_at
        FROM shift_occurrences
        WHERE template_id = ? AND assigned_employee_id = ?
          AND status IN ('Scheduled', 'Assigned', 'Rescheduled')
          AND TIMESTAMP(scheduled_date, start_time) > NOW()
          AND TIMESTAMP(scheduled_date, start_time) <= DATE_ADD(NOW(), INTERVAL 14 DAY)
        ORDER BY scheduled_date ASC, start_time ASC`

	rows, err := r.conn.QueryContext(ctx, q, templateID, employeeID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query upcoming occurrences")
	}
	defer rows.Close()

	var out []domain.ShiftOccurrence
	for rows.Next() {
		var o domain.ShiftOccurrence
		if err := rows.Scan(
			&o.ID, &o.TemplateID, &o.ProviderID, &o.PatientID, &o.AssignedEmployeeID,
			&o.ScheduledDate, &o.StartTime, &o.EndTime, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to scan occurrence row")
		}
		out = append(out, o)
	}
	return out, nil
}

// FindOpenOccurrenceForEmployee resolves an inbound SMS reply's sender
// to the single Open occurrence they're currently being offered,
// joining through the patient's staff pool. Used by the wave reply
// handler to turn a bare "yes" into an Accept intent without the
// employee having to state which occurrence they mean.
func (r *Repository) FindOpenOccurrenceForEmployee(ctx context.Context, employeeID int64) (*domain.ShiftOccurrence, error) {
	const q = `
        SELECT o.id, o.template_id, o.provider_id, o.patient_id, o.assigned_employee_id,
               o.scheduled_date, o.start_time, o.end_time, o.status, o.created_at, o.updated_at
        FROM shift_occurrences o
        JOIN patients p ON p.id = o.patient_id
        WHERE o.status = 'Open'
          AND JSON_CONTAINS(p.staff_pool, CAST(? AS JSON))
        ORDER BY o.scheduled_date ASC, o.start_time ASC
        LIMIT 1`

	o := &domain.ShiftOccurrence{}
	err := r.conn.QueryRowContext(ctx, q, employeeID).Scan(
		&o.ID, &o.TemplateID, &o.ProviderID, &o.PatientID, &o.AssignedEmployeeID,
		&o.ScheduledDate, &o.StartTime, &o.EndTime, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "no open occurrence offered to this employee").WithContext("employeeId", employeeID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query open occurrence for employee")
	}
	return o, nil
}

func (r *Repository) GetOccurrence(ctx context.Context, id int64) (*domain.ShiftOccurrence, error) {
	const q = `
        SELECT id, template_id, provider_id, patient_id, assigned_employee_id,
               scheduled_date, start_time, end_time, status, created_at, updated_at
        FROM shift_occurrences WHERE id = ?`

	o := &domain.ShiftOccurrence{}
	err := r.conn.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.TemplateID, &o.ProviderID, &o.PatientID, &o.AssignedEmployeeID,
		&o.ScheduledDate, &o.StartTime, &o.EndTime, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrNotFound, "occurrence not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query occurrence")
	}
	return o, nil
}

// ListOccurrencesByStatus returns every occurrence for a provider
// currently in the given status, nearest first, for the admin CLI's
// `occurrence list` and for operators auditing stuck Open shifts.
func (r *Repository) ListOccurrencesByStatus(ctx context.Context, providerID int64, status domain.OccurrenceStatus) ([]domain.ShiftOccurrence, error) {
	const q = `
        SELECT id, template_id, provider_id, patient_id, assigned_employee_id,
               scheduled_date, start_time, end_time, status, created_at, updated_at
        FROM shift_occurrences
        WHERE provider_id = ? AND status = ?
        ORDER BY scheduled_date ASC, start_time ASC`

	rows, err := r.conn.QueryContext(ctx, q, providerID, status)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to query occurrences by status")
	}
	defer rows.Close()

	var out []domain.ShiftOccurrence
	for rows.Next() {
		o := domain.ShiftOccurrence{}
		if err := rows.Scan(
			&o.ID, &o.TemplateID, &o.ProviderID, &o.PatientID, &o.AssignedEmployeeID,
			&o.ScheduledDate, &o.StartTime, &o.EndTime, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to scan occurrence row")
		}
		out = append(out, o)
	}
	return out, nil
}

// CompareAndSetStatus is the sole path by which an occurrence's status
// (and optionally its assigned employee, date, or time) may change. It
// locks the row FOR UPDATE inside a transaction, verifies the row is
// still in fromStatus, and only then applies the update — mirroring
// the allocate-under-lock-then-conditional-update shape used
// elsewhere in this stack for contended resource assignment. Returns
// apperr.ErrRaceLost if another writer already moved the row out of
// fromStatus.
func (r *Repository) CompareAndSetStatus(ctx context.Context, occurrenceID int64, fromStatus, toStatus domain.OccurrenceStatus, mutate func(*domain.ShiftOccurrence)) error {
	return r.conn.Transaction(ctx, func(tx *sql.Tx) error {
		const selectQ = `
            SELECT id, template_id, provider_id, patient_id, assigned_employee_id,
                   scheduled_date, start_time, end_time, status, created_at, updated_at
            FROM shift_occurrences WHERE id = ? FOR UPDATE`

		o := &domain.ShiftOccurrence{}
		err := tx.QueryRowContext(ctx, selectQ, occurrenceID).Scan(
			&o.ID, &o.TemplateID, &o.ProviderID, &o.PatientID, &o.AssignedEmployeeID,
			&o.ScheduledDate, &o.StartTime, &o.EndTime, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		)
		if err == sql.ErrNoRows {
			return apperr.New(apperr.ErrNotFound, "occurrence not found")
		}
		if err != nil {
			return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to lock occurrence row")
		}

		if o.Status != fromStatus {
			return apperr.New(apperr.ErrRaceLost, fmt.Sprintf("occurrence status is %q, expected %q", o.Status, fromStatus)).
				WithContext("occurrenceId", occurrenceID)
		}

		o.Status = toStatus
		if mutate != nil {
			mutate(o)
		}

		const updateQ = `
            UPDATE shift_occurrences
            SET status = ?, assigned_employee_id = ?, scheduled_date = ?, start_time = ?, end_time = ?, updated_at = NOW()
            WHERE id = ? AND status = ?`

		result, err := tx.ExecContext(ctx, updateQ,
			o.Status, o.AssignedEmployeeID, o.ScheduledDate, o.StartTime, o.EndTime,
			occurrenceID, fromStatus,
		)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to update occurrence")
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to read rows affected")
		}
		if rows == 0 {
			return apperr.New(apperr.ErrRaceLost, "occurrence status changed concurrently").
				WithContext("occurrenceId", occurrenceID)
		}

		logger.WithContext(ctx).WithFields(map[string]interface{}{
			"occurrenceId": occurrenceID,
			"from":         fromStatus,
			"to":           toStatus,
		}).Info("occurrence status transitioned")

		return nil
	})
}

// ---- call logs ----

func (r *Repository) CreateCallLog(ctx context.Context, log *domain.CallLog) (int64, error) {
	const q = `
        INSERT INTO call_logs (call_id, direction, provider_id, employee_id, patient_id, started_at, purpose, outcome, dtmf_response, attempt_round, recording_ref)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.conn.ExecContext(ctx, q,
		log.CallID, log.Direction, log.ProviderID, log.EmployeeID, log.PatientID,
		log.StartedAt, log.Purpose, log.Outcome, log.DTMFResponse, log.AttemptRound, log.RecordingRef,
	)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to insert call log")
	}
	return result.LastInsertId()
}

func (r *Repository) FinalizeCallLog(ctx context.Context, id int64, outcome domain.CallOutcome, dtmfResponse string) error {
	const q = `UPDATE call_logs SET outcome = ?, dtmf_response = ?, ended_at = NOW() WHERE id = ?`
	_, err := r.conn.ExecContext(ctx, q, outcome, dtmfResponse, id)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to finalize call log")
	}
	return nil
}
