package worker

import (
	"context"
	"time"

	"github.com/examhall/examhall-backend/internal/service"
	"github.com/rs/zerolog"
)

// DeadlineWorker periodically sweeps in_progress sessions whose exam
// duration plus grace has elapsed and finalizes them with whatever
// answers exist. The client countdown only drives the UI; this sweep is
// the authoritative enforcement of the time limit.
type DeadlineWorker struct {
	sessions *service.ExamSessionService
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

func NewDeadlineWorker(sessions *service.ExamSessionService, interval, grace time.Duration, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		sessions: sessions,
		interval: interval,
		grace:    grace,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("DeadlineWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	finalized, err := w.sessions.FinalizeExpired(sweepCtx, w.grace)
	if err != nil {
		w.log.Error().Err(err).Msg("deadline sweep failed")
		return
	}
	if finalized > 0 {
		w.log.Info().Int("finalized", finalized).Msg("Expired sessions finalized")
	}
}
