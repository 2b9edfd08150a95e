// Package callflow is the Call FSM: it turns the inbound telephony
// webhook's start/speech/dtmf/hangup events into phase transitions on
// a Redis-backed CallSession, the way router.go turns S1/S2/S3
// webhook events into call-record transitions, except the record here
// is a conversation rather than a routed leg.
//
// Every phase transition that changes a shift occurrence's status
// goes through the assignment arbiter's Intent system; this package
// never calls repository.CompareAndSetStatus itself.
package callflow

import (
	"context"
	"strconv"
	"time"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/metrics"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/session"
	"github.com/carebridge/shiftcover/internal/telephony"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

// maxAttempts is the number of failed attempts a phase allows: the
// first maxAttempts-1 failures re-prompt, and the maxAttempts-th
// transfers the call to a human.
const maxAttempts = 3

// globalTimeout forces any call still open after this long to a human
// transfer, regardless of phase.
const globalTimeout = 10 * time.Minute

// Processor is the Dispatcher telephony.Server invokes for every
// inbound webhook event.
type Processor struct {
	repo    *repository.Repository
	client  *telephony.Client
	arbiter *arbiter.Arbiter
}

func NewProcessor(repo *repository.Repository, client *telephony.Client, arb *arbiter.Arbiter) *Processor {
	return &Processor{repo: repo, client: client, arbiter: arb}
}

// Dispatch is a telephony.Dispatcher.
func (p *Processor) Dispatch(ctx context.Context, event telephony.InboundEvent) error {
	ctx = logger.WithCallID(ctx, event.CallID)

	if event.EventType == "start" {
		return p.start(ctx, event)
	}

	sess, err := session.Get(ctx, event.CallID)
	if err != nil {
		return err
	}
	if sess == nil {
		logger.WithContext(ctx).Debug("event for unknown or expired call session, ignoring")
		return nil
	}
	ctx = logger.WithProviderID(ctx, sess.ProviderID)
	if sess.OccurrenceID != nil {
		ctx = logger.WithOccurrenceID(ctx, *sess.OccurrenceID)
	}

	if event.EventType == "hangup" {
		return p.hangup(ctx, sess)
	}

	if time.Since(sess.CreatedAt) > globalTimeout {
		return p.transfer(ctx, sess, "call exceeded the ten minute limit")
	}

	input := event.SpeechText
	if event.EventType == "dtmf" {
		input = event.Digits
	}

	provider, err := p.repo.GetProvider(ctx, sess.ProviderID)
	if err != nil {
		return err
	}

	return p.step(ctx, sess, provider, input)
}

// start resolves the dialed number to its owning provider, opens a
// call log row, greets the caller, and attempts caller-ID
// authentication before falling back to a PIN prompt.
func (p *Processor) start(ctx context.Context, event telephony.InboundEvent) error {
	provider, err := p.repo.FindProviderByPhone(ctx, event.ToNumber)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("to", event.ToNumber).Warn("inbound call to unrecognised number")
		return p.client.HangUp(ctx, event.CallID)
	}
	ctx = logger.WithProviderID(ctx, provider.ID)

	callLogID, err := p.repo.CreateCallLog(ctx, &domain.CallLog{
		CallID:     event.CallID,
		Direction:  domain.DirectionInbound,
		ProviderID: provider.ID,
		StartedAt:  time.Now(),
		Purpose:    domain.PurposeShiftCoverage,
	})
	if err != nil {
		return err
	}

	sess := session.New(event.CallID, event.CallerPhone, provider.ID)
	sess.CallLogID = callLogID

	metrics.Get().SetGauge("active_calls", 1, map[string]string{"provider": providerLabel(provider.ID)})

	if err := p.client.PlayText(ctx, event.CallID, provider.IVRGreeting); err != nil {
		return err
	}

	// Caller-ID authentication: an active employee whose number
	// matches skips straight past the PIN prompt.
	if employee, err := p.repo.FindEmployeeByPhone(ctx, provider.ID, sess.CallerPhone); err == nil {
		sess.EmployeeID = &employee.ID
		sess.Phase = domain.PhaseJobCode
		if err := p.promptJobCode(ctx, sess, 0); err != nil {
			return err
		}
		return session.Put(ctx, sess)
	} else if !apperr.Is(err, apperr.ErrNotFound) {
		return err
	}

	sess.Phase = domain.PhaseAuthByPin
	if err := p.client.PlayText(ctx, event.CallID, "I didn't recognise your number. Please enter your four digit PIN."); err != nil {
		return err
	}
	if err := p.client.GatherDTMF(ctx, event.CallID, 4); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func providerLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

// hangup finalises the call log and session for a caller who hung up
// before reaching a terminal phase on their own.
func (p *Processor) hangup(ctx context.Context, sess *domain.CallSession) error {
	defer session.Delete(ctx, sess.ID)
	metrics.Get().SetGauge("active_calls", 0, map[string]string{"provider": providerLabel(sess.ProviderID)})

	if sess.Phase.IsTerminal() {
		return nil
	}

	metrics.Get().IncrementCounter("calls_failed", map[string]string{"reason": "abandoned", "provider": providerLabel(sess.ProviderID)})
	return p.repo.FinalizeCallLog(ctx, sess.CallLogID, domain.OutcomeAbandoned, "")
}
