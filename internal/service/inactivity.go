package service

import (
	"context"
	"fmt"

	"deploytime/sync-agent/internal/tracker"

	"go.uber.org/zap"
)

// HandleInactivity acts on detector events for the running timer. Only a
// "stop" answer changes anything: the active entry is stopped. "adjust" is
// left to the UI, which owns editing recorded time.
func (s *SyncService) HandleInactivity(ctx context.Context, ev tracker.Event) {
	if ev.Type != tracker.EventResponse {
		return
	}

	switch ev.Decision {
	case tracker.DecisionStop:
		active, err := s.ActiveTimer(ctx)
		if err != nil {
			s.logger.Warn("Cannot read active timer after inactivity", zap.Error(err))
			return
		}
		if active == nil {
			return
		}
		notes := active.Notes
		if notes == "" {
			notes = fmt.Sprintf("Stopped after %d minutes of inactivity", int(ev.IdleFor.Minutes()))
		}
		if _, err := s.StopTimer(ctx, active.ID, notes); err != nil && !IsQueued(err) {
			s.logger.Error("Failed to stop timer after inactivity",
				zap.Int64("entry_id", active.ID),
				zap.Error(err),
			)
		}
	case tracker.DecisionAdjust:
		s.logger.Info("Operator chose to adjust idle time",
			zap.Time("idle_since", ev.IdleSince),
			zap.Duration("idle_for", ev.IdleFor),
		)
	}
}
