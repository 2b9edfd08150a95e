// Package outbound runs the voice-call escalation once SMS waves are
// exhausted: dial the staff pool one at a time in round-robin order,
// wait for an answer and a DTMF digit (1 accept, 2 decline), and
// after a configured number of full rounds with no acceptance, hand
// off to CallsExhausted.
//
// The round-robin cursor lives in the queue job itself (round number,
// pool index), not in an in-memory counter: this stack elsewhere
// tracks a round-robin position as a live atomic counter, but that
// only works within one long-running process. A per-occurrence
// cursor needs to survive a worker restart between dials (the next
// dial may be minutes away), so the cursor is carried by the job
// chain itself — each handler reads its position from the job it was
// given and writes the next position into the job it enqueues.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/queue"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/sms"
	"github.com/carebridge/shiftcover/internal/telephony"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

const jobKind = "outbound"

type Config struct {
	WebhookURL string // base URL the carrier should call back with progress events
	RingWait   time.Duration
}

type Caller struct {
	cfg     Config
	repo    *repository.Repository
	client  *telephony.Client
	sms     *sms.Client
	arbiter *arbiter.Arbiter
}

func NewCaller(cfg Config, repo *repository.Repository, client *telephony.Client, smsClient *sms.Client, arb *arbiter.Arbiter) *Caller {
	if cfg.RingWait == 0 {
		cfg.RingWait = 30 * time.Second
	}
	return &Caller{cfg: cfg, repo: repo, client: client, sms: smsClient, arbiter: arb}
}

// EnqueueFirstDial schedules round 1, pool position 0, after the
// provider-configured waitMinutes — called by the wave scheduler once
// Wave 3 completes with the occurrence still unfilled.
func EnqueueFirstDial(ctx context.Context, occurrenceID, providerID int64, pool domain.Int64Slice, waitMinutes int) error {
	job := domain.OutboundCallJob{
		OccurrenceID:      occurrenceID,
		RoundNumber:       1,
		PoolIndex:         0,
		ProviderID:        providerID,
		StaffPoolSnapshot: pool,
	}
	jobID := fmt.Sprintf("%s:1:0", queue.OutboundKey(occurrenceID))
	return queue.Enqueue(ctx, jobID, queue.OutboundKey(occurrenceID), jobKind, job, time.Duration(waitMinutes)*time.Minute)
}

// HandleJob is the queue.Handler for outbound dial jobs: dial the
// pool member at the job's round/poolIndex position, then either
// finish or enqueue the next position with delay 0 (dialing proceeds
// as fast as ring-wait allows; only the very first dial after SMS
// exhaustion waits out waitMinutes).
func (c *Caller) HandleJob(ctx context.Context, job queue.Job) error {
	if job.Kind != jobKind {
		return nil
	}

	var oj domain.OutboundCallJob
	if err := json.Unmarshal(job.Payload, &oj); err != nil {
		return apperr.Wrap(err, apperr.ErrUnparsable, "failed to unmarshal outbound job payload")
	}

	occ, err := c.repo.GetOccurrence(ctx, oj.OccurrenceID)
	if err != nil {
		return err
	}
	if occ.Status != domain.StatusUnfilledAfterSMS {
		return nil // someone already accepted
	}

	provider, err := c.repo.GetProvider(ctx, oj.ProviderID)
	if err != nil {
		return err
	}

	pool := oj.StaffPoolSnapshot
	if oj.PoolIndex >= len(pool) {
		return apperr.New(apperr.ErrConfigInvalid, "outbound job pool index out of range")
	}
	employeeID := pool[oj.PoolIndex]

	employee, err := c.repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return err
	}

	if employee.Active && employee.OutboundCallOptIn && employee.Phone != "" {
		outcome, dtmf, callID := c.placeAndWait(ctx, employee.Phone)

		if outcome == domain.OutcomeAccepted {
			outcome = c.resolveAccept(ctx, callID, oj.OccurrenceID, employee)
		} else if callID != "" {
			c.client.HangUp(ctx, callID)
		}

		if _, err := c.repo.CreateCallLog(ctx, &domain.CallLog{
			CallID:       fmt.Sprintf("out-%d-%d-%d", oj.OccurrenceID, oj.RoundNumber, oj.PoolIndex),
			Direction:    domain.DirectionOutbound,
			ProviderID:   oj.ProviderID,
			EmployeeID:   &employeeID,
			PatientID:    &occ.PatientID,
			StartedAt:    time.Now(),
			Purpose:      domain.PurposeOutboundShiftOffer,
			Outcome:      outcome,
			DTMFResponse: dtmf,
			AttemptRound: oj.RoundNumber,
		}); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("failed to write outbound call log")
		}

		if outcome == domain.OutcomeAccepted {
			return nil
		}
	}

	return c.enqueueNext(ctx, oj, pool, provider.OutboundCalling.MaxRounds)
}

// resolveAccept submits the Accept intent while the caller is still
// on the line, so the outcome of the race can be played back to them
// before hanging up.
func (c *Caller) resolveAccept(ctx context.Context, callID string, occurrenceID int64, employee *domain.Employee) domain.CallOutcome {
	_, err := c.arbiter.Submit(ctx, arbiter.Intent{OccurrenceID: occurrenceID, Kind: arbiter.IntentAccept, EmployeeID: employee.ID})
	if err != nil {
		if apperr.Is(err, apperr.ErrRaceLost) {
			c.client.PlayText(ctx, callID, "Sorry, this shift has already been filled.")
			c.client.HangUp(ctx, callID)
			return domain.OutcomeDeclined
		}
		logger.WithContext(ctx).WithError(err).Warn("failed to submit accept intent")
		c.client.HangUp(ctx, callID)
		return domain.OutcomeError
	}

	c.client.PlayText(ctx, callID, "You're confirmed for this shift. Thank you.")
	c.client.HangUp(ctx, callID)

	if employee.Phone != "" {
		if err := c.sms.Send(ctx, employee.Phone, "You're confirmed for the shift you just accepted by phone."); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("failed to send outbound-accept confirmation SMS")
		}
	}

	return domain.OutcomeAccepted
}

func (c *Caller) enqueueNext(ctx context.Context, oj domain.OutboundCallJob, pool domain.Int64Slice, maxRounds int) error {
	nextPoolIndex := oj.PoolIndex + 1
	nextRound := oj.RoundNumber
	if nextPoolIndex >= len(pool) {
		nextPoolIndex = 0
		nextRound++
	}

	if nextRound > maxRounds {
		_, err := c.arbiter.Submit(ctx, arbiter.Intent{OccurrenceID: oj.OccurrenceID, Kind: arbiter.IntentCallsExhausted})
		return err
	}

	next := domain.OutboundCallJob{
		OccurrenceID:      oj.OccurrenceID,
		RoundNumber:       nextRound,
		PoolIndex:         nextPoolIndex,
		ProviderID:        oj.ProviderID,
		StaffPoolSnapshot: pool,
	}
	jobID := fmt.Sprintf("%s:%d:%d", queue.OutboundKey(oj.OccurrenceID), nextRound, nextPoolIndex)
	return queue.Enqueue(ctx, jobID, queue.OutboundKey(oj.OccurrenceID), jobKind, next, 0)
}

// placeAndWait dials a number, waits for it to be answered, asks for
// a DTMF choice, and waits for that digit, with one retry prompt if
// the first gather times out. On an Accepted outcome the call is left
// up (and callID returned) so the caller can be told whether they
// actually won the race before hanging up; placeAndWait never hangs
// up itself, and HandleJob hangs up every other outcome that has a
// callID since there's nothing left to tell the caller.
func (c *Caller) placeAndWait(ctx context.Context, toNumber string) (domain.CallOutcome, string, string) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RingWait+30*time.Second)
	defer cancel()

	callID, err := c.client.PlaceCall(callCtx, toNumber, "", c.cfg.WebhookURL)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to place outbound call")
		return domain.OutcomeError, "", ""
	}

	answered, err := c.client.AwaitEvent(callCtx, callID, c.cfg.RingWait)
	if err != nil || answered.Type != "answered" {
		return domain.OutcomeNoAnswer, "", ""
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := c.client.GatherDTMF(callCtx, callID, 1); err != nil {
			return domain.OutcomeError, "", callID
		}

		dtmfEvent, err := c.client.AwaitEvent(callCtx, callID, 10*time.Second)
		if err != nil {
			continue // one retry prompt on timeout
		}

		switch dtmfEvent.Digits {
		case "1":
			return domain.OutcomeAccepted, "1", callID
		case "2":
			return domain.OutcomeDeclined, "2", callID
		default:
			continue
		}
	}

	return domain.OutcomeDeclined, "", callID
}
