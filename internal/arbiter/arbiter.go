// Package arbiter is the single point of truth for shift occurrence
// status. Every caller — the call flow, the wave scheduler, the
// outbound caller — submits an Intent rather than mutating an
// occurrence directly. Each occurrence has its own mailbox: a
// buffered channel drained by one goroutine, so concurrent intents
// for the same occurrence (an inbound acceptance racing an outbound
// wave timeout) are serialized into one linear decision sequence
// instead of relying on database locking alone to arbitrate outcomes.
//
// The database compare-and-set in internal/repository remains the
// final authority across process boundaries; the mailbox exists to
// give a clean, race-free sequence of side effects (which wave jobs
// to cancel, whether a notification fires) within a single process.
package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/queue"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/speech"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type IntentKind string

const (
	IntentAccept         IntentKind = "Accept"
	IntentRelease        IntentKind = "Release"
	IntentReschedule     IntentKind = "Reschedule"
	IntentWavesExhausted IntentKind = "WavesExhausted"
	IntentCallsExhausted IntentKind = "CallsExhausted"
	IntentCancelled      IntentKind = "Cancelled"
)

// Intent is the only way any component may ask for an occurrence's
// status to change.
type Intent struct {
	OccurrenceID int64
	Kind         IntentKind
	EmployeeID   int64  // Accept/Release/Reschedule: who is taking/releasing it
	NewDate      string // Reschedule only
	NewTime      string // Reschedule only
}

// Result reports what actually happened to the occurrence.
type Result struct {
	Applied    bool
	FromStatus domain.OccurrenceStatus
	ToStatus   domain.OccurrenceStatus
}

type request struct {
	ctx    context.Context
	intent Intent
	reply  chan response
}

type response struct {
	result Result
	err    error
}

type mailbox struct {
	requests chan request
}

// ReleaseHook is invoked after an occurrence transitions to Open via
// a successful Release intent — the signal the wave scheduler starts
// its SMS fan-out on. Injected from cmd/shiftcoverd rather than
// imported directly, since internal/wave itself depends on Arbiter to
// submit its own intents and a direct import would cycle.
type ReleaseHook func(ctx context.Context, occurrenceID int64)

// Arbiter owns one mailbox goroutine per occurrence id, created
// lazily and kept for the process lifetime (occurrence counts are
// small enough that this never needs to be torn down).
type Arbiter struct {
	repo      *repository.Repository
	onRelease ReleaseHook

	mu        sync.Mutex
	mailboxes map[int64]*mailbox
}

func New(repo *repository.Repository) *Arbiter {
	return &Arbiter{
		repo:      repo,
		mailboxes: make(map[int64]*mailbox),
	}
}

// SetReleaseHook wires the wave scheduler's Start method in after
// construction, once it exists (it needs this Arbiter to be built
// first).
func (a *Arbiter) SetReleaseHook(hook ReleaseHook) {
	a.onRelease = hook
}

func (a *Arbiter) mailboxFor(occurrenceID int64) *mailbox {
	a.mu.Lock()
	defer a.mu.Unlock()

	if mb, ok := a.mailboxes[occurrenceID]; ok {
		return mb
	}

	mb := &mailbox{requests: make(chan request, 16)}
	a.mailboxes[occurrenceID] = mb
	go a.run(occurrenceID, mb)
	return mb
}

func (a *Arbiter) run(occurrenceID int64, mb *mailbox) {
	for req := range mb.requests {
		result, err := a.apply(req.ctx, req.intent)
		req.reply <- response{result: result, err: err}
	}
}

// Submit enqueues an intent and blocks for its outcome, or until ctx
// is cancelled.
func (a *Arbiter) Submit(ctx context.Context, intent Intent) (Result, error) {
	mb := a.mailboxFor(intent.OccurrenceID)
	reply := make(chan response, 1)

	select {
	case mb.requests <- request{ctx: ctx, intent: intent, reply: reply}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (a *Arbiter) apply(ctx context.Context, intent Intent) (Result, error) {
	occ, err := a.repo.GetOccurrence(ctx, intent.OccurrenceID)
	if err != nil {
		return Result{}, err
	}

	from := occ.Status
	var to domain.OccurrenceStatus
	var mutate func(*domain.ShiftOccurrence)

	switch intent.Kind {
	case IntentAccept:
		if from != domain.StatusOpen && from != domain.StatusUnfilledAfterSMS {
			return Result{FromStatus: from, ToStatus: domain.StatusAssigned}, apperr.New(apperr.ErrRaceLost, "occurrence is no longer open for acceptance")
		}
		to = domain.StatusAssigned
		employeeID := intent.EmployeeID
		mutate = func(o *domain.ShiftOccurrence) { o.AssignedEmployeeID = &employeeID }

	case IntentRelease:
		to = domain.StatusOpen
		mutate = func(o *domain.ShiftOccurrence) { o.AssignedEmployeeID = nil }

	case IntentReschedule:
		// Defense in depth: the call flow already validates the new
		// datetime against business hours before submitting, but this
		// is the only path every Reschedule intent — inbound call,
		// future API client — must pass through before it touches the
		// occurrence.
		if intent.NewDate != "" && intent.NewTime != "" {
			provider, perr := a.repo.GetProvider(ctx, occ.ProviderID)
			if perr != nil {
				return Result{}, perr
			}
			loc, lerr := time.LoadLocation(provider.Timezone)
			if lerr != nil {
				loc = time.UTC
			}
			businessHours, verr := speech.ValidateSchedulable(intent.NewDate, intent.NewTime, time.Now(), loc)
			if verr != nil {
				return Result{}, apperr.Wrap(verr, apperr.ErrConfigInvalid, "reschedule target is not a valid future datetime")
			}
			if !businessHours {
				return Result{}, apperr.New(apperr.ErrConfigInvalid, "reschedule target falls outside business hours")
			}
		}

		to = domain.StatusRescheduled
		employeeID := intent.EmployeeID
		mutate = func(o *domain.ShiftOccurrence) {
			o.AssignedEmployeeID = &employeeID
			if intent.NewDate != "" {
				o.ScheduledDate = intent.NewDate
			}
			if intent.NewTime != "" {
				o.StartTime = intent.NewTime
			}
		}

	case IntentWavesExhausted:
		to = domain.StatusUnfilledAfterSMS

	case IntentCallsExhausted:
		to = domain.StatusUnfilledAfterCalls

	case IntentCancelled:
		to = domain.StatusCancelled

	default:
		return Result{}, apperr.New(apperr.ErrConfigInvalid, "unknown intent kind")
	}

	if from == to {
		return Result{Applied: false, FromStatus: from, ToStatus: to}, nil
	}

	err = a.repo.CompareAndSetStatus(ctx, intent.OccurrenceID, from, to, mutate)
	if err != nil {
		return Result{FromStatus: from, ToStatus: to}, err
	}

	a.runSideEffects(ctx, intent.OccurrenceID, from, to)

	return Result{Applied: true, FromStatus: from, ToStatus: to}, nil
}

// runSideEffects cancels any outstanding SMS-wave or outbound-dial
// jobs once an occurrence leaves the Open/UnfilledAfterSMS track,
// since a filled or withdrawn shift must not keep ringing or texting
// the remaining pool.
func (a *Arbiter) runSideEffects(ctx context.Context, occurrenceID int64, from, to domain.OccurrenceStatus) {
	if to == domain.StatusOpen && a.onRelease != nil {
		// Detached from the triggering request's context: the wave
		// pipeline runs for up to 30 minutes and must not be cancelled
		// just because the call that released the shift hung up.
		go a.onRelease(context.Background(), occurrenceID)
	}

	if to == domain.StatusAssigned || to == domain.StatusRescheduled || to == domain.StatusCancelled {
		if n, err := queue.Cancel(ctx, queue.WaveKey(occurrenceID)); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("failed to cancel wave jobs")
		} else if n > 0 {
			logger.WithContext(ctx).WithField("occurrenceId", occurrenceID).WithField("count", n).Info("cancelled pending wave jobs")
		}
		if n, err := queue.Cancel(ctx, queue.OutboundKey(occurrenceID)); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("failed to cancel outbound jobs")
		} else if n > 0 {
			logger.WithContext(ctx).WithField("occurrenceId", occurrenceID).WithField("count", n).Info("cancelled pending outbound jobs")
		}
	}
}
