// Package wave runs the three-wave SMS fan-out for an open shift
// occurrence: send to the whole staff pool at once, wait, resend to
// the whole pool, wait, resend once more, then hand off to
// the outbound caller if still unfilled. Each wave is a delayed job
// so the process can restart between waves without losing state; an
// occurrence accepted mid-wave has its remaining waves cancelled by
// the assignment arbiter's side effects.
package wave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/outbound"
	"github.com/carebridge/shiftcover/internal/queue"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/sms"
	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

func unmarshalPayload(raw json.RawMessage, dest interface{}) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return apperr.Wrap(err, apperr.ErrUnparsable, "failed to unmarshal job payload")
	}
	return nil
}

const jobKind = "wave"

// Config governs the fixed stagger between waves, measured from wave
// 1: wave 2 always fires Wave2Delay after wave 1, wave 3 always fires
// Wave3Delay after wave 1 (not after wave 2).
type Config struct {
	Wave2Delay time.Duration
	Wave3Delay time.Duration
}

type Scheduler struct {
	cfg     Config
	repo    *repository.Repository
	sms     *sms.Client
	arbiter *arbiter.Arbiter
}

func NewScheduler(cfg Config, repo *repository.Repository, smsClient *sms.Client, arb *arbiter.Arbiter) *Scheduler {
	if cfg.Wave2Delay == 0 {
		cfg.Wave2Delay = 15 * time.Minute
	}
	if cfg.Wave3Delay == 0 {
		cfg.Wave3Delay = 30 * time.Minute
	}
	return &Scheduler{cfg: cfg, repo: repo, sms: smsClient, arbiter: arb}
}

// Start begins the wave pipeline for an occurrence that has just gone
// Open: fires wave 1 immediately and schedules waves 2 and 3 as
// delayed jobs. If the staff pool is empty, it short-circuits straight
// to WavesExhausted since there is nobody to text.
func (s *Scheduler) Start(ctx context.Context, occurrenceID int64) error {
	occ, err := s.repo.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return err
	}
	patient, err := s.repo.GetPatient(ctx, occ.PatientID)
	if err != nil {
		return err
	}

	if len(patient.StaffPool) == 0 {
		logger.WithContext(ctx).WithField("occurrenceId", occurrenceID).Info("empty staff pool, skipping straight to waves exhausted")
		_, err := s.arbiter.Submit(ctx, arbiter.Intent{OccurrenceID: occurrenceID, Kind: arbiter.IntentWavesExhausted})
		return err
	}

	if err := s.sendWave(ctx, occ, patient, 1); err != nil {
		return err
	}

	for wave, delay := range map[int]time.Duration{2: s.cfg.Wave2Delay, 3: s.cfg.Wave3Delay} {
		job := domain.WaveJob{
			OccurrenceID:      occurrenceID,
			WaveNumber:        wave,
			ProviderID:        occ.ProviderID,
			StaffPoolSnapshot: patient.StaffPool,
		}
		jobID := fmt.Sprintf("%s:%d", queue.WaveKey(occurrenceID), wave)
		if err := queue.Enqueue(ctx, jobID, queue.WaveKey(occurrenceID), jobKind, job, delay); err != nil {
			return err
		}
	}

	return nil
}

// HandleJob is the queue.Handler for wave jobs: re-send to the pool
// and, if this was the last wave, hand off to WavesExhausted.
func (s *Scheduler) HandleJob(ctx context.Context, job queue.Job) error {
	if job.Kind != jobKind {
		return nil
	}

	var wj domain.WaveJob
	if err := unmarshalPayload(job.Payload, &wj); err != nil {
		return err
	}

	occ, err := s.repo.GetOccurrence(ctx, wj.OccurrenceID)
	if err != nil {
		return err
	}
	if occ.Status != domain.StatusOpen {
		// already resolved by the time this wave fired
		return nil
	}

	patient, err := s.repo.GetPatient(ctx, occ.PatientID)
	if err != nil {
		return err
	}

	if err := s.sendWave(ctx, occ, patient, wj.WaveNumber); err != nil {
		return err
	}

	if wj.WaveNumber < 3 {
		return nil
	}

	if _, err := s.arbiter.Submit(ctx, arbiter.Intent{OccurrenceID: wj.OccurrenceID, Kind: arbiter.IntentWavesExhausted}); err != nil {
		return err
	}

	provider, err := s.repo.GetProvider(ctx, wj.ProviderID)
	if err != nil {
		return err
	}
	if !provider.OutboundCalling.Enabled {
		return nil
	}

	return outbound.EnqueueFirstDial(ctx, wj.OccurrenceID, wj.ProviderID, wj.StaffPoolSnapshot, provider.OutboundCalling.WaitMinutes)
}

func (s *Scheduler) sendWave(ctx context.Context, occ *domain.ShiftOccurrence, patient *domain.Patient, waveNumber int) error {
	message := fmt.Sprintf(
		"Shift coverage needed %s %s-%s. Reply YES to accept.",
		occ.ScheduledDate, occ.StartTime, occ.EndTime,
	)

	var lastErr error
	sent := 0
	for _, employeeID := range patient.StaffPool {
		employee, err := s.repo.GetEmployee(ctx, employeeID)
		if err != nil {
			lastErr = err
			continue
		}
		if !employee.Active {
			continue
		}
		if err := s.sms.Send(ctx, employee.Phone, message); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("employeeId", employeeID).Warn("failed to send wave SMS")
			lastErr = err
			continue
		}
		sent++
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"occurrenceId": occ.ID, "wave": waveNumber, "sent": sent,
	}).Info("SMS wave sent")

	if sent == 0 && lastErr != nil {
		return apperr.Wrap(lastErr, apperr.ErrBackendUnavailable, "wave failed to reach any pool member")
	}
	return nil
}
