// Package domain holds the entity model shared by every component:
// providers, employees, patients, shift templates and occurrences,
// call sessions, queue job payloads, and call logs.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Int64Slice is a JSON-encoded []int64 column, used for Patient.StaffPool
// and the pool snapshots carried by WaveJob/OutboundCallJob. Mirrors the
// driver.Valuer/sql.Scanner convention the rest of this stack uses for
// JSON columns.
type Int64Slice []int64

func (s Int64Slice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *Int64Slice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("domain: Int64Slice.Scan: unsupported type")
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, s)
}

// OnCallWindow is a provider's local after-hours call-taking window.
type OnCallWindow struct {
	StartLocal string `json:"startLocal" db:"start_local"`
	EndLocal   string `json:"endLocal" db:"end_local"`
}

// OutboundCallingConfig governs the Outbound Caller escalation for a provider.
type OutboundCallingConfig struct {
	Enabled         bool   `json:"enabled"`
	WaitMinutes     int    `json:"waitMinutes"`
	MaxRounds       int    `json:"maxRounds"`
	MessageTemplate string `json:"messageTemplate"`
}

func (c OutboundCallingConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *OutboundCallingConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("domain: OutboundCallingConfig.Scan: unsupported type")
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}

// Provider is the tenancy boundary: a care organisation with employees,
// patients, and a phone number.
type Provider struct {
	ID              int64                  `json:"id" db:"id"`
	Name            string                 `json:"name" db:"name"`
	PhoneNumber     string                 `json:"phoneNumber" db:"phone_number"`
	Timezone        string                 `json:"timezone" db:"timezone"`
	TransferNumber  string                 `json:"transferNumber" db:"transfer_number"`
	IVRGreeting     string                 `json:"ivrGreeting" db:"ivr_greeting"`
	OnCallWindow    OnCallWindow           `json:"onCallWindow" db:"-"`
	OnCallStart     string                 `json:"-" db:"on_call_start_local"`
	OnCallEnd       string                 `json:"-" db:"on_call_end_local"`
	OutboundCalling OutboundCallingConfig  `json:"outboundCalling" db:"outbound_calling"`
	CreatedAt       time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time              `json:"updatedAt" db:"updated_at"`
}

// Employee is a provider-scoped staff member who can be authenticated on
// a call and can be a member of one or more patients' staff pools.
type Employee struct {
	ID                int64     `json:"id" db:"id"`
	ProviderID        int64     `json:"providerId" db:"provider_id"`
	DisplayName       string    `json:"displayName" db:"display_name"`
	Phone             string    `json:"phone" db:"phone"`
	Pin               string    `json:"pin" db:"pin"`
	Active            bool      `json:"active" db:"active"`
	OutboundCallOptIn bool      `json:"outboundCallOptIn" db:"outbound_call_opt_in"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// Patient carries the Related Staff Pool: the ordered set of employees
// authorised to cover this patient's shifts.
type Patient struct {
	ID          int64      `json:"id" db:"id"`
	ProviderID  int64      `json:"providerId" db:"provider_id"`
	DisplayName string     `json:"displayName" db:"display_name"`
	Phone       string     `json:"phone" db:"phone"`
	DOB         string     `json:"dob" db:"dob"`
	StaffPool   Int64Slice `json:"staffPoolIds" db:"staff_pool"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// ShiftTemplate names a recurring shift slot by its spoken job code.
type ShiftTemplate struct {
	ID                int64     `json:"id" db:"id"`
	ProviderID        int64     `json:"providerId" db:"provider_id"`
	PatientID         int64     `json:"patientId" db:"patient_id"`
	DefaultEmployeeID *int64    `json:"defaultEmployeeId" db:"default_employee_id"`
	JobCode           string    `json:"jobCode" db:"job_code"`
	WindowStart       string    `json:"windowStart" db:"window_start"`
	WindowEnd         string    `json:"windowEnd" db:"window_end"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

type OccurrenceStatus string

const (
	StatusScheduled          OccurrenceStatus = "Scheduled"
	StatusAssigned           OccurrenceStatus = "Assigned"
	StatusRescheduled        OccurrenceStatus = "Rescheduled"
	StatusOpen               OccurrenceStatus = "Open"
	StatusUnfilledAfterSMS   OccurrenceStatus = "UnfilledAfterSMS"
	StatusUnfilledAfterCalls OccurrenceStatus = "UnfilledAfterCalls"
	StatusCompleted          OccurrenceStatus = "Completed"
	StatusCancelled          OccurrenceStatus = "Cancelled"
)

// ShiftOccurrence is one instance of a shift at a specific date/time.
// Status is mutated exclusively through the Assignment Arbiter's CAS.
type ShiftOccurrence struct {
	ID                 int64            `json:"id" db:"id"`
	TemplateID         *int64           `json:"templateId" db:"template_id"`
	ProviderID         int64            `json:"providerId" db:"provider_id"`
	PatientID          int64            `json:"patientId" db:"patient_id"`
	AssignedEmployeeID *int64           `json:"assignedEmployeeId" db:"assigned_employee_id"`
	ScheduledDate       string          `json:"scheduledDate" db:"scheduled_date"`
	StartTime           string          `json:"startTime" db:"start_time"`
	EndTime              string         `json:"endTime" db:"end_time"`
	Status               OccurrenceStatus `json:"status" db:"status"`
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time        `json:"updatedAt" db:"updated_at"`
}

// CallPhase is the Call FSM's tagged-variant phase.
type CallPhase string

const (
	PhaseGreeting        CallPhase = "Greeting"
	PhaseAuthByPhone     CallPhase = "AuthByPhone"
	PhaseAuthByPin       CallPhase = "AuthByPin"
	PhaseProviderSelect  CallPhase = "ProviderSelect"
	PhaseJobCode         CallPhase = "JobCode"
	PhaseConfirmJobCode  CallPhase = "ConfirmJobCode"
	PhaseJobOptions      CallPhase = "JobOptions"
	PhaseOccurrenceSelect CallPhase = "OccurrenceSelect"
	PhaseCollectDateTime CallPhase = "CollectDateTime"
	PhaseConfirmDateTime CallPhase = "ConfirmDateTime"
	PhaseCollectReason   CallPhase = "CollectReason"
	PhaseConfirmRelease  CallPhase = "ConfirmRelease"
	PhaseTransferred     CallPhase = "Transferred"
	PhaseCompleted       CallPhase = "Completed"
	PhaseAbandoned       CallPhase = "Abandoned"
)

func (p CallPhase) IsTerminal() bool {
	switch p {
	case PhaseTransferred, PhaseCompleted, PhaseAbandoned:
		return true
	default:
		return false
	}
}

// TranscriptEntry is one append-only line of a call's transcript.
type TranscriptEntry struct {
	At     time.Time `json:"at"`
	Phase  CallPhase `json:"phase"`
	Speaker string   `json:"speaker"` // "system" or "caller"
	Text    string   `json:"text"`
}

// PendingAction is what the reschedule/release path is still waiting on.
type PendingAction string

const (
	ActionReschedule PendingAction = "Reschedule"
	ActionRelease    PendingAction = "Release"
)

// CallSession is the short-lived, single-writer state for one inbound
// call, keyed by the telephony-supplied call id.
type CallSession struct {
	ID                string             `json:"id"`
	CallLogID         int64              `json:"callLogId"`
	ProviderID        int64              `json:"providerId"`
	CallerPhone       string             `json:"callerPhone"`
	EmployeeID        *int64             `json:"employeeId"`
	TemplateID        *int64             `json:"templateId"`
	OccurrenceID      *int64             `json:"occurrenceId"`
	OccurrenceChoices Int64Slice         `json:"occurrenceChoices,omitempty"` // the up-to-3 ids offered by the last OccurrenceSelect prompt
	PendingAction     PendingAction      `json:"pendingAction,omitempty"`
	Phase             CallPhase          `json:"phase"`
	AttemptCounts     map[CallPhase]int  `json:"attemptCounts"`
	Transcript        []TranscriptEntry  `json:"transcript"`
	PendingDate       string             `json:"pendingDate,omitempty"` // YYYY-MM-DD, set once the date half of CollectDateTime resolves
	PendingTime       string             `json:"pendingTime,omitempty"` // HH:MM, set once the time half of CollectDateTime resolves
	PendingReason     string             `json:"pendingReason,omitempty"`
	ConfirmRetried    bool               `json:"confirmRetried,omitempty"` // ConfirmDateTime's one-loop-then-transfer allowance, already spent
	CreatedAt         time.Time          `json:"createdAt"`
	LastEventAt       time.Time          `json:"lastEventAt"`
}

// WaveJob is the Delayed Job Queue payload for one SMS fan-out wave.
type WaveJob struct {
	OccurrenceID      int64      `json:"occurrenceId"`
	WaveNumber        int        `json:"waveNumber"`
	ProviderID        int64      `json:"providerId"`
	StaffPoolSnapshot Int64Slice `json:"staffPoolSnapshot"`
	ScheduledFor      time.Time  `json:"scheduledFor"`
}

// OutboundCallJob is the Delayed Job Queue payload for one dial attempt.
type OutboundCallJob struct {
	OccurrenceID      int64      `json:"occurrenceId"`
	RoundNumber       int        `json:"roundNumber"`
	PoolIndex         int        `json:"poolIndex"`
	ProviderID        int64      `json:"providerId"`
	StaffPoolSnapshot Int64Slice `json:"staffPoolSnapshot"`
}

type CallDirection string

const (
	DirectionInbound  CallDirection = "Inbound"
	DirectionOutbound CallDirection = "Outbound"
)

type CallPurpose string

const (
	PurposeShiftCoverage    CallPurpose = "ShiftCoverage"
	PurposeOutboundShiftOffer CallPurpose = "OutboundShiftOffer"
)

type CallOutcome string

const (
	OutcomeRescheduled           CallOutcome = "Rescheduled"
	OutcomeReleased              CallOutcome = "Released"
	OutcomeTransferred           CallOutcome = "Transferred"
	OutcomeTransferFailedNoNumber CallOutcome = "TransferFailedNoNumber"
	OutcomeAbandoned             CallOutcome = "Abandoned"
	OutcomeAccepted              CallOutcome = "Accepted"
	OutcomeDeclined              CallOutcome = "Declined"
	OutcomeNoAnswer              CallOutcome = "NoAnswer"
	OutcomeError                 CallOutcome = "Error"
)

// CallLog is created on call start and finalised on call end; never
// mutated thereafter.
type CallLog struct {
	ID            int64       `json:"id" db:"id"`
	CallID        string      `json:"callId" db:"call_id"`
	Direction     CallDirection `json:"direction" db:"direction"`
	ProviderID    int64       `json:"providerId" db:"provider_id"`
	EmployeeID    *int64      `json:"employeeId" db:"employee_id"`
	PatientID     *int64      `json:"patientId" db:"patient_id"`
	StartedAt     time.Time   `json:"startedAt" db:"started_at"`
	EndedAt       *time.Time  `json:"endedAt" db:"ended_at"`
	Purpose       CallPurpose `json:"purpose" db:"purpose"`
	Outcome       CallOutcome `json:"outcome" db:"outcome"`
	DTMFResponse  string      `json:"dtmfResponse" db:"dtmf_response"`
	AttemptRound  int         `json:"attemptRound" db:"attempt_round"`
	RecordingRef  string      `json:"recordingRef" db:"recording_ref"`
}
