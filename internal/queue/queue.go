// Package queue is the delayed job queue behind SMS waves and
// outbound dial rounds: Enqueue schedules a job for a future instant,
// Cancel sweeps every job whose key starts with a prefix (used when a
// shift is accepted mid-wave and the remaining waves must not fire),
// and WorkerLoop claims and processes due jobs at-least-once.
//
// Jobs live in a single Redis sorted set keyed by due-time (unix
// seconds) so "what's due now" is a cheap ZRANGEBYSCORE, the same
// shape the rest of this stack uses Redis for: a small atomic
// primitive (here, ZREM as the claim) guarding a longer side effect.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/carebridge/shiftcover/internal/rediscache"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

const setKey = "queue:jobs"

// Job is the sorted-set member. Key is the cancellable prefix handle
// (e.g. "shift:42:wave" or "shift:42:outbound"); Kind tells the
// worker loop which handler to invoke; Payload is the job-specific
// JSON body (a domain.WaveJob or domain.OutboundCallJob).
type Job struct {
	ID      string          `json:"id"`
	Key     string          `json:"key"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Due     int64           `json:"due"`
}

// Handler processes one due job. Returning an error causes the job to
// be re-enqueued a short interval later (at-least-once delivery).
type Handler func(ctx context.Context, job Job) error

func rawClient() *redis.Client {
	return rediscache.Get().Raw()
}

func fullSetKey() string {
	return rediscache.Get().Key(setKey)
}

// Enqueue schedules payload under kind, to run after delay, addressed
// by key for later prefix cancellation. id identifies this logical
// job: if a pending job with the same id is already queued, Enqueue
// is a no-op that keeps the earlier scheduling rather than adding a
// second copy — the round-trip law callers (wave, outbound) rely on
// when a retried enqueue races a successful one.
func Enqueue(ctx context.Context, id, key, kind string, payload interface{}, delay time.Duration) error {
	exists, err := existsByID(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to marshal job payload")
	}

	due := time.Now().Add(delay).Unix()
	job := Job{ID: id, Key: key, Kind: kind, Payload: body, Due: due}
	member, err := json.Marshal(job)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to marshal job envelope")
	}

	if err := rawClient().ZAdd(ctx, fullSetKey(), &redis.Z{Score: float64(due), Member: member}).Err(); err != nil {
		return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to enqueue job")
	}
	return nil
}

// existsByID reports whether a job with the given id is still pending.
// Same scan-and-filter shape as Cancel: the set is small enough per
// occurrence that a full ZRANGE is cheaper than maintaining a second
// by-id index.
func existsByID(ctx context.Context, id string) (bool, error) {
	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		return false, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to list queued jobs")
	}
	for _, raw := range members {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Cancel removes every queued job whose Key starts with keyPrefix,
// e.g. cancelling every remaining wave and outbound-round job for an
// occurrence the moment it is accepted.
func Cancel(ctx context.Context, keyPrefix string) (int, error) {
	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to list queued jobs")
	}

	var toRemove []interface{}
	for _, raw := range members {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if strings.HasPrefix(job.Key, keyPrefix) {
			toRemove = append(toRemove, raw)
		}
	}
	if len(toRemove) == 0 {
		return 0, nil
	}

	if err := rawClient().ZRem(ctx, fullSetKey(), toRemove...).Err(); err != nil {
		return 0, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to cancel queued jobs")
	}
	return len(toRemove), nil
}

// claimScript atomically pops every member with score <= now, the
// same compare-then-mutate shape as the distributed lock's unlock
// script: one round trip decides who gets to process a job.
var claimScript = redis.NewScript(`
local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
if #due > 0 then
    redis.call("zrem", KEYS[1], unpack(due))
end
return due
`)

func claimDue(ctx context.Context) ([]Job, error) {
	now := time.Now().Unix()
	raw, err := claimScript.Run(ctx, rawClient(), []string{fullSetKey()}, now).StringSlice()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to claim due jobs")
	}

	jobs := make([]Job, 0, len(raw))
	for _, s := range raw {
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("dropping unparsable queued job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// WorkerLoop polls for due jobs every pollInterval and dispatches them
// to handler across a small worker pool, retrying a failed job after
// a fixed backoff rather than dropping it. It runs until ctx is
// cancelled.
func WorkerLoop(ctx context.Context, poolSize int, pollInterval time.Duration, handler Handler) {
	if poolSize < 1 {
		poolSize = 1
	}
	sem := make(chan struct{}, poolSize)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := claimDue(ctx)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("failed to claim due jobs")
				continue
			}
			for _, job := range jobs {
				job := job
				sem <- struct{}{}
				go func() {
					defer func() { <-sem }()
					if err := handler(ctx, job); err != nil {
						logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
							"jobId": job.ID, "key": job.Key, "kind": job.Kind,
						}).Warn("job handler failed, retrying shortly")
						retryJob := job
						body, _ := json.Marshal(retryJob)
						rawClient().ZAdd(ctx, fullSetKey(), &redis.Z{
							Score:  float64(time.Now().Add(30 * time.Second).Unix()),
							Member: body,
						})
					}
				}()
			}
		}
	}
}

// WaveKey and OutboundKey build the cancellable key prefixes used for
// an occurrence's wave and outbound-round jobs.
func WaveKey(occurrenceID int64) string {
	return fmt.Sprintf("shift:%d:wave", occurrenceID)
}

func OutboundKey(occurrenceID int64) string {
	return fmt.Sprintf("shift:%d:outbound", occurrenceID)
}
