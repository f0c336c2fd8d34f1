package pgsource

import (
	"context"
	"fmt"

	"github.com/zerosync/zero/internal/platform/apperr"
)

// CheckAutoReset compares the configured publication set against what is
// actually live upstream. If a required publication has disappeared (an
// operator dropped it, or renamed the shard), it returns AutoResetSignal;
// StartStream calls it first, so the stream fails loudly rather than
// silently streaming a subset (spec.md §4.1 "Auto-reset").
func (s *ChangeSource) CheckAutoReset(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT pubname FROM pg_publication`)
	if err != nil {
		return fmt.Errorf("pgsource: listing publications: %w", err)
	}
	defer rows.Close()

	live := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		live[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, want := range s.cfg.Publications {
		if !live[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return apperr.NewAutoReset(s.cfg.Publications, missingToConfigured(live))
	}
	return nil
}

func missingToConfigured(live map[string]bool) []string {
	out := make([]string, 0, len(live))
	for name := range live {
		out = append(out, name)
	}
	return out
}

// Cancel transitions the stream to StateCancelled for observers (health
// checks, the handoff logic) to see. It only changes the published state:
// it does not release the replication slot or stop the pump goroutine,
// which runs until the ctx passed to StartStream is cancelled.
func (s *ChangeSource) Cancel() {
	for {
		cur := s.state.Load()
		if cur == StateCancelled || cur == StateFailed {
			return
		}
		if s.state.CAS(cur, StateCancelled) {
			return
		}
	}
}

// State returns the stream's current state for observability/handoff
// decisions.
func (s *ChangeSource) State() StreamState { return s.state.Load() }
