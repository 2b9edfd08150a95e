package callflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/metrics"
	"github.com/carebridge/shiftcover/internal/session"
	"github.com/carebridge/shiftcover/internal/speech"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

// step dispatches one turn of speech or DTMF input to the handler for
// the session's current phase. ProviderSelect never appears here: this
// stack resolves provider tenancy from the dialed number at call
// start, so an authenticated employee always lands straight on
// JobCode.
func (p *Processor) step(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	switch sess.Phase {
	case domain.PhaseAuthByPin:
		return p.handleAuthByPin(ctx, sess, provider, input)
	case domain.PhaseJobCode:
		return p.handleJobCode(ctx, sess, provider, input)
	case domain.PhaseConfirmJobCode:
		return p.handleConfirmJobCode(ctx, sess, provider, input)
	case domain.PhaseJobOptions:
		return p.handleJobOptions(ctx, sess, provider, input)
	case domain.PhaseOccurrenceSelect:
		return p.handleOccurrenceSelect(ctx, sess, provider, input)
	case domain.PhaseCollectDateTime:
		return p.handleCollectDateTime(ctx, sess, provider, input)
	case domain.PhaseConfirmDateTime:
		return p.handleConfirmDateTime(ctx, sess, provider, input)
	case domain.PhaseCollectReason:
		return p.handleCollectReason(ctx, sess, provider, input)
	case domain.PhaseConfirmRelease:
		return p.handleConfirmRelease(ctx, sess, provider, input)
	default:
		logger.WithContext(ctx).WithField("phase", sess.Phase).Warn("input received for a phase with no active handler")
		return nil
	}
}

func (p *Processor) handleAuthByPin(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.Digits(4))
	if err != nil {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.promptAuthByPin(ctx, sess, attempt) })
	}

	employee, err := p.repo.FindEmployeeByPin(ctx, provider.ID, parsed.Token.(string))
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.promptAuthByPin(ctx, sess, attempt) })
		}
		return err
	}

	sess.EmployeeID = &employee.ID
	sess.Phase = domain.PhaseJobCode
	if err := p.promptJobCode(ctx, sess, 0); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleJobCode(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.AlnumCode(2, 8))
	if err != nil {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.promptJobCode(ctx, sess, attempt) })
	}

	code := parsed.Token.(string)
	template, err := p.repo.FindShiftTemplate(ctx, provider.ID, code)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.promptJobCode(ctx, sess, attempt) })
		}
		return err
	}

	sess.TemplateID = &template.ID

	// A confidently-parsed code skips the confirmation round entirely;
	// a shakier one still gets read back before JobOptions.
	if parsed.Confidence >= speech.AutoAccept {
		sess.Phase = domain.PhaseJobOptions
		if err := p.promptJobOptions(ctx, sess, 0); err != nil {
			return err
		}
		return session.Put(ctx, sess)
	}

	sess.Phase = domain.PhaseConfirmJobCode
	if err := p.playAndGatherSpeech(ctx, sess.ID, fmt.Sprintf("I heard job code %s. Is that right?", code), 5); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleConfirmJobCode(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.YesNoGrammar())
	if err != nil {
		// Ambiguous/unparsable answer re-confirms the same job code once
		// rather than immediately discarding it and falling back to
		// JobCode, per spec.md's "ambiguous -> re-confirm once" rule.
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			msg := "Sorry, was that a yes or a no?"
			if attempt > 1 {
				msg = "Please say just 'yes' or 'no'."
			}
			return p.playAndGatherSpeech(ctx, sess.ID, msg, 5)
		})
	}
	if parsed.Token == speech.No {
		sess.TemplateID = nil
		sess.Phase = domain.PhaseJobCode
		if err := p.promptJobCode(ctx, sess, 0); err != nil {
			return err
		}
		return session.Put(ctx, sess)
	}

	sess.Phase = domain.PhaseJobOptions
	if err := p.promptJobOptions(ctx, sess, 0); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleJobOptions(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.ActionChoiceGrammar())
	if err != nil {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.promptJobOptions(ctx, sess, attempt) })
	}

	switch parsed.Token.(speech.ActionIntent) {
	case speech.IntentTransfer:
		return p.transfer(ctx, sess, "caller asked for a representative")
	case speech.IntentReschedule:
		sess.PendingAction = domain.ActionReschedule
	case speech.IntentRelease:
		sess.PendingAction = domain.ActionRelease
	}

	return p.beginOccurrenceSelect(ctx, sess)
}

// beginOccurrenceSelect lists the caller's own upcoming occurrences
// under the confirmed job code, up to three, and offers them as a
// DTMF menu.
func (p *Processor) beginOccurrenceSelect(ctx context.Context, sess *domain.CallSession) error {
	occurrences, err := p.repo.ListUpcomingOccurrencesForEmployee(ctx, *sess.EmployeeID, *sess.TemplateID)
	if err != nil {
		return err
	}
	if len(occurrences) == 0 {
		return p.transfer(ctx, sess, "no upcoming occurrences to offer")
	}
	if len(occurrences) > 3 {
		occurrences = occurrences[:3]
	}

	choices := make(domain.Int64Slice, len(occurrences))
	var prompt strings.Builder
	prompt.WriteString("Which shift do you mean? ")
	for i, o := range occurrences {
		choices[i] = o.ID
		prompt.WriteString(fmt.Sprintf("Press %d for %s at %s. ", i+1, o.ScheduledDate, o.StartTime))
	}

	sess.OccurrenceChoices = choices
	sess.Phase = domain.PhaseOccurrenceSelect
	if err := p.client.PlayText(ctx, sess.ID, prompt.String()); err != nil {
		return err
	}
	if err := p.client.GatherDTMF(ctx, sess.ID, 1); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleOccurrenceSelect(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	idx := -1
	if parsed, err := speech.Parse(input, speech.Digits(1)); err == nil {
		if n, convErr := strconv.Atoi(parsed.Token.(string)); convErr == nil {
			idx = n - 1
		}
	}
	if idx < 0 || idx >= len(sess.OccurrenceChoices) {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error { return p.repromptOccurrenceSelect(ctx, sess, attempt) })
	}

	occurrenceID := sess.OccurrenceChoices[idx]
	sess.OccurrenceID = &occurrenceID
	ctx = logger.WithOccurrenceID(ctx, occurrenceID)

	switch sess.PendingAction {
	case domain.ActionReschedule:
		sess.Phase = domain.PhaseCollectDateTime
		if err := p.playAndGatherSpeech(ctx, sess.ID, "What date and time would you like instead?", 8); err != nil {
			return err
		}
	case domain.ActionRelease:
		sess.Phase = domain.PhaseCollectReason
		if err := p.playAndGatherSpeech(ctx, sess.ID, "Can you tell me why you need to release this shift?", 10); err != nil {
			return err
		}
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleCollectDateTime(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	loc, err := time.LoadLocation(provider.Timezone)
	if err != nil {
		loc = time.UTC
	}

	parsed, err := speech.ParseNaturalDateTime(input, time.Now(), loc)
	if err != nil {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			msg := "Sorry, I didn't catch a date or time. What date and time would you like instead?"
			if attempt > 1 {
				msg = "Let's try that differently. Say a day, like 'Monday' or 'August 3rd', then a time, like '2 PM'."
			}
			return p.playAndGatherSpeech(ctx, sess.ID, msg, 8)
		})
	}

	result := parsed.Token.(speech.DateTimeResult)
	if result.Date != "" {
		sess.PendingDate = result.Date
	}
	if result.Time != "" {
		sess.PendingTime = result.Time
	}

	if sess.PendingDate == "" || sess.PendingTime == "" {
		missing := "date"
		if sess.PendingDate != "" {
			missing = "time"
		}
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			return p.playAndGatherSpeech(ctx, sess.ID, fmt.Sprintf("And what %s would that be?", missing), 6)
		})
	}

	businessHours, verr := speech.ValidateSchedulable(sess.PendingDate, sess.PendingTime, time.Now(), loc)
	if verr != nil {
		sess.PendingDate = ""
		sess.PendingTime = ""
		msg := "Sorry, I didn't catch a date or time. What date and time would you like instead?"
		if errors.Is(verr, speech.ErrPastDateTime) {
			msg = "That time has already passed. What date and time would you like instead?"
		}
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			return p.playAndGatherSpeech(ctx, sess.ID, msg, 8)
		})
	}
	if !businessHours {
		sess.PendingDate = ""
		sess.PendingTime = ""
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			return p.playAndGatherSpeech(ctx, sess.ID, "That falls outside our Monday to Friday, 7 AM to 6 PM scheduling window. Please give me a different date and time.", 8)
		})
	}

	template, err := p.repo.GetShiftTemplate(ctx, *sess.TemplateID)
	if err != nil {
		return err
	}
	if !withinWindow(sess.PendingTime, template.WindowStart, template.WindowEnd) {
		sess.PendingDate = ""
		sess.PendingTime = ""
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			return p.playAndGatherSpeech(ctx, sess.ID, "That's outside this job's coverage window. Please give me a different date and time.", 8)
		})
	}

	// A confidently-parsed, fully-resolved datetime skips ConfirmDateTime
	// and is submitted straight away; anything less certain is read back.
	if parsed.Confidence >= speech.AutoAccept {
		return p.submitReschedule(ctx, sess)
	}

	sess.Phase = domain.PhaseConfirmDateTime
	if err := p.playAndGatherSpeech(ctx, sess.ID, fmt.Sprintf("I heard %s at %s. Is that right?", sess.PendingDate, sess.PendingTime), 5); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

// withinWindow reports whether a HH:MM clock time falls within
// [start, end], handling the overnight after-hours windows most
// templates on this stack carry (e.g. 18:00-07:00).
func withinWindow(t, start, end string) bool {
	if start <= end {
		return t >= start && t <= end
	}
	return t >= start || t <= end
}

func (p *Processor) handleConfirmDateTime(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.YesNoGrammar())
	if err != nil || parsed.Token == speech.No {
		sess.PendingDate = ""
		sess.PendingTime = ""
		sess.Phase = domain.PhaseCollectDateTime
		if err := p.playAndGatherSpeech(ctx, sess.ID, "No problem. What date and time would you like instead?", 8); err != nil {
			return err
		}
		return session.Put(ctx, sess)
	}

	return p.submitReschedule(ctx, sess)
}

// submitReschedule submits the pending date/time as a Reschedule intent,
// either from an explicit "yes" at ConfirmDateTime or straight off a
// confidently-parsed CollectDateTime turn that skipped confirmation.
func (p *Processor) submitReschedule(ctx context.Context, sess *domain.CallSession) error {
	_, err := p.arbiter.Submit(ctx, arbiter.Intent{
		OccurrenceID: *sess.OccurrenceID,
		Kind:         arbiter.IntentReschedule,
		EmployeeID:   *sess.EmployeeID,
		NewDate:      sess.PendingDate,
		NewTime:      sess.PendingTime,
	})
	if err != nil {
		if apperr.Is(err, apperr.ErrRaceLost) {
			if sess.ConfirmRetried {
				return p.transfer(ctx, sess, "reschedule lost the assignment race twice")
			}
			sess.ConfirmRetried = true
			sess.Phase = domain.PhaseJobOptions
			if err := p.client.PlayText(ctx, sess.ID, "Sorry, that shift just changed."); err != nil {
				return err
			}
			if err := p.promptJobOptions(ctx, sess, 0); err != nil {
				return err
			}
			return session.Put(ctx, sess)
		}
		return err
	}

	return p.complete(ctx, sess, domain.OutcomeRescheduled, "You're all set. This shift has been rescheduled. Thank you.")
}

func (p *Processor) handleCollectReason(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.FreeReasonGrammar())
	if err != nil {
		return p.retryOrTransfer(ctx, sess, func(attempt int) error {
			msg := "Can you tell me a bit more about why you need to release this shift?"
			if attempt > 1 {
				msg = "In just a few words, what's the reason you need to release this shift?"
			}
			return p.playAndGatherSpeech(ctx, sess.ID, msg, 10)
		})
	}

	reason := parsed.Token.(speech.FreeReasonResult)
	sess.PendingReason = reason.Text
	sess.Phase = domain.PhaseConfirmRelease
	if err := p.playAndGatherSpeech(ctx, sess.ID, "Got it. Should I release this shift back to the team?", 5); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

func (p *Processor) handleConfirmRelease(ctx context.Context, sess *domain.CallSession, provider *domain.Provider, input string) error {
	parsed, err := speech.Parse(input, speech.YesNoGrammar())
	if err != nil || parsed.Token == speech.No {
		sess.Phase = domain.PhaseCollectReason
		if err := p.playAndGatherSpeech(ctx, sess.ID, "Okay, what's the reason, in your own words?", 10); err != nil {
			return err
		}
		return session.Put(ctx, sess)
	}

	_, err = p.arbiter.Submit(ctx, arbiter.Intent{
		OccurrenceID: *sess.OccurrenceID,
		Kind:         arbiter.IntentRelease,
		EmployeeID:   *sess.EmployeeID,
	})
	if err != nil {
		if apperr.Is(err, apperr.ErrRaceLost) {
			return p.transfer(ctx, sess, "release lost the assignment race")
		}
		return err
	}

	return p.complete(ctx, sess, domain.OutcomeReleased, "Thanks, this shift has been released. We'll find someone else to cover it.")
}

// ---- prompts ----

func (p *Processor) promptAuthByPin(ctx context.Context, sess *domain.CallSession, attempt int) error {
	msg := "Please enter your four digit PIN."
	if attempt > 1 {
		msg = "Four digits, using your phone's keypad."
	}
	if err := p.client.PlayText(ctx, sess.ID, msg); err != nil {
		return err
	}
	return p.client.GatherDTMF(ctx, sess.ID, 4)
}

func (p *Processor) promptJobCode(ctx context.Context, sess *domain.CallSession, attempt int) error {
	msg := "What's the job code for this shift?"
	if attempt > 1 {
		msg = "Just the job code, letters and numbers only."
	}
	return p.playAndGatherSpeech(ctx, sess.ID, msg, 6)
}

func (p *Processor) promptJobOptions(ctx context.Context, sess *domain.CallSession, attempt int) error {
	msg := "Would you like to reschedule this shift, release it, or speak to someone?"
	if attempt > 1 {
		msg = "Say 'reschedule', 'release', or 'representative'."
	}
	return p.playAndGatherSpeech(ctx, sess.ID, msg, 6)
}

func (p *Processor) repromptOccurrenceSelect(ctx context.Context, sess *domain.CallSession, attempt int) error {
	msg := "Sorry, please press the number for the shift you meant."
	if attempt > 1 {
		msg = "Press 1, 2, or 3 for the shift you meant."
	}
	if err := p.client.PlayText(ctx, sess.ID, msg); err != nil {
		return err
	}
	return p.client.GatherDTMF(ctx, sess.ID, 1)
}

func (p *Processor) playAndGatherSpeech(ctx context.Context, callID, text string, maxSeconds int) error {
	if err := p.client.PlayText(ctx, callID, text); err != nil {
		return err
	}
	return p.client.GatherSpeech(ctx, callID, maxSeconds)
}

// ---- terminal transitions ----

// retryOrTransfer bumps the current phase's attempt counter and either
// re-prompts or, once the counter reaches maxAttempts, hands the call
// to a human.
func (p *Processor) retryOrTransfer(ctx context.Context, sess *domain.CallSession, reprompt func(attempt int) error) error {
	sess.AttemptCounts[sess.Phase]++
	if sess.AttemptCounts[sess.Phase] >= maxAttempts {
		return p.transfer(ctx, sess, "too many failed attempts in "+string(sess.Phase))
	}
	if err := reprompt(sess.AttemptCounts[sess.Phase]); err != nil {
		return err
	}
	return session.Put(ctx, sess)
}

// complete ends the call on a successful outcome.
func (p *Processor) complete(ctx context.Context, sess *domain.CallSession, outcome domain.CallOutcome, message string) error {
	defer session.Delete(ctx, sess.ID)
	sess.Phase = domain.PhaseCompleted

	metrics.Get().IncrementCounter("calls_processed", map[string]string{"phase": string(outcome), "provider": providerLabel(sess.ProviderID)})
	metrics.Get().SetGauge("active_calls", 0, map[string]string{"provider": providerLabel(sess.ProviderID)})

	if err := p.client.PlayText(ctx, sess.ID, message); err != nil {
		return err
	}
	if err := p.client.HangUp(ctx, sess.ID); err != nil {
		return err
	}
	return p.repo.FinalizeCallLog(ctx, sess.CallLogID, outcome, "")
}

// transfer bridges the call to the provider's human line, or ends the
// call gracefully if none is configured.
func (p *Processor) transfer(ctx context.Context, sess *domain.CallSession, reason string) error {
	defer session.Delete(ctx, sess.ID)
	sess.Phase = domain.PhaseTransferred

	metrics.Get().IncrementCounter("calls_failed", map[string]string{"reason": reason, "provider": providerLabel(sess.ProviderID)})
	metrics.Get().SetGauge("active_calls", 0, map[string]string{"provider": providerLabel(sess.ProviderID)})

	provider, err := p.repo.GetProvider(ctx, sess.ProviderID)
	if err != nil {
		return err
	}

	if provider.TransferNumber == "" {
		logger.WithContext(ctx).WithField("reason", reason).Warn("transfer requested but provider has no transfer number configured")
		if err := p.client.PlayText(ctx, sess.ID, "I'm sorry, I'm not able to help further right now."); err != nil {
			return err
		}
		if err := p.client.HangUp(ctx, sess.ID); err != nil {
			return err
		}
		return p.repo.FinalizeCallLog(ctx, sess.CallLogID, domain.OutcomeTransferFailedNoNumber, "")
	}

	logger.WithContext(ctx).WithField("reason", reason).Info("transferring call to provider representative")
	if err := p.client.PlayText(ctx, sess.ID, "Let me connect you with someone who can help."); err != nil {
		return err
	}
	if err := p.client.TransferTo(ctx, sess.ID, provider.TransferNumber); err != nil {
		return err
	}
	return p.repo.FinalizeCallLog(ctx, sess.CallLogID, domain.OutcomeTransferred, "")
}
