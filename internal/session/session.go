// Package session is the Redis-backed store for in-progress call
// state, keyed by the telephony provider's call id. A call is a
// single-writer object in the common case (one webhook handler at a
// time advances one call's phase), so Put/Get do not lock by default;
// WithLock exists for the rare case of an overlapping duplicate
// webhook delivery for the same call id.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/rediscache"
	"github.com/carebridge/shiftcover/pkg/apperr"
)

// TTL bounds how long an abandoned call's session lingers in Redis;
// it comfortably outlives the Call FSM's own 10-minute global timer.
const TTL = time.Hour

func key(callID string) string {
	return fmt.Sprintf("session:%s", callID)
}

// Get loads a call's session, or nil if none is stored (a fresh call).
func Get(ctx context.Context, callID string) (*domain.CallSession, error) {
	var s domain.CallSession
	if !rediscache.Get().Get(ctx, key(callID), &s) {
		return nil, nil
	}
	return &s, nil
}

// Put persists a call's session, resetting its TTL.
func Put(ctx context.Context, s *domain.CallSession) error {
	if s == nil || s.ID == "" {
		return apperr.New(apperr.ErrConfigInvalid, "session has no call id")
	}
	s.LastEventAt = time.Now()
	rediscache.Get().Set(ctx, key(s.ID), s, TTL)
	return nil
}

// Delete removes a call's session once the Call FSM reaches a
// terminal phase.
func Delete(ctx context.Context, callID string) {
	rediscache.Get().Delete(ctx, key(callID))
}

// New builds a fresh session for an inbound call.
func New(callID, callerPhone string, providerID int64) *domain.CallSession {
	now := time.Now()
	return &domain.CallSession{
		ID:            callID,
		ProviderID:    providerID,
		CallerPhone:   callerPhone,
		Phase:         domain.PhaseGreeting,
		AttemptCounts: make(map[domain.CallPhase]int),
		CreatedAt:     now,
		LastEventAt:   now,
	}
}

// WithLock guards the rare case of two webhook deliveries for the
// same call id racing each other: it acquires a short per-call lock,
// reloads the session under it, lets fn mutate and return the updated
// session, persists the result, and releases the lock.
func WithLock(ctx context.Context, callID string, fn func(s *domain.CallSession) (*domain.CallSession, error)) error {
	unlock, err := rediscache.Get().Lock(ctx, fmt.Sprintf("session-write:%s", callID), 5*time.Second)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := Get(ctx, callID)
	if err != nil {
		return err
	}

	updated, err := fn(s)
	if err != nil {
		return err
	}
	if updated == nil {
		Delete(ctx, callID)
		return nil
	}
	return Put(ctx, updated)
}
