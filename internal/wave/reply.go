package wave

import (
	"context"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/phone"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/sms"
	"github.com/carebridge/shiftcover/internal/speech"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

// ReplyResolver turns an inbound SMS reply into an Accept intent: the
// sender's phone identifies the employee, and the employee's single
// currently-Open occurrence is the one they're replying about. A
// reply that doesn't parse as an affirmative, or that can't be tied
// to an open offer, is logged and dropped rather than treated as an
// error — most inbound text is not a reply to a coverage offer at all.
type ReplyResolver struct {
	repo    *repository.Repository
	arbiter *arbiter.Arbiter
}

func NewReplyResolver(repo *repository.Repository, arb *arbiter.Arbiter) *ReplyResolver {
	return &ReplyResolver{repo: repo, arbiter: arb}
}

// HandleReply is an sms.ReplyHandler.
func (r *ReplyResolver) HandleReply(ctx context.Context, reply sms.InboundReply) error {
	parsed, err := speech.Parse(reply.Body, speech.YesNoGrammar())
	if err != nil || parsed.Token != speech.Yes {
		logger.WithContext(ctx).WithField("from", reply.From).Debug("SMS reply not a recognised acceptance, ignoring")
		return nil
	}

	normalised, err := phone.Normalise(reply.From)
	if err != nil {
		logger.WithContext(ctx).WithField("from", reply.From).WithError(err).Debug("SMS reply from unnormalisable number, ignoring")
		return nil
	}

	employee, err := r.repo.FindEmployeeByPhoneAnyProvider(ctx, normalised)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			logger.WithContext(ctx).WithField("from", normalised).Debug("SMS reply from unknown number, ignoring")
			return nil
		}
		return err
	}

	occ, err := r.repo.FindOpenOccurrenceForEmployee(ctx, employee.ID)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			logger.WithContext(ctx).WithField("employeeId", employee.ID).Debug("acceptance reply with no open offer, ignoring")
			return nil
		}
		return err
	}

	_, err = r.arbiter.Submit(ctx, arbiter.Intent{
		OccurrenceID: occ.ID,
		Kind:         arbiter.IntentAccept,
		EmployeeID:   employee.ID,
	})
	if err != nil && !apperr.Is(err, apperr.ErrRaceLost) {
		return err
	}
	return nil
}
