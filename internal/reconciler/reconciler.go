// Package reconciler sweeps conversation states stuck in operator ownership
// past a timeout with no operator reply, and returns them to the automated
// agent. A customer sending more messages while waiting does not extend the
// timeout; only an operator's own outbound message counts as handled.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitcodr/waplane/internal/convstate"
	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/ledger"
)

// DefaultTimeoutMinutes is how long an operator may sit on a claimed
// conversation without replying before it is reclaimed.
const DefaultTimeoutMinutes = 30

const defaultPoolSize = 10

// Options control one sweep.
type Options struct {
	TimeoutMinutes int  `json:"timeout_minutes"`
	DryRun         bool `json:"dry_run"`
}

// ConversationReport describes one conversation the sweep examined.
type ConversationReport struct {
	Phone         string `json:"phone"`
	OperatorID    *int64 `json:"operator_id,string,omitempty"`
	TakenOverAt   string `json:"taken_over_at"`
	MinutesWaited int    `json:"minutes_waited"`
}

// Summary is the sweep result.
type Summary struct {
	TotalChecked          int                  `json:"total_checked"`
	Released              int                  `json:"released"`
	Skipped               int                  `json:"skipped"`
	DryRun                bool                 `json:"dry_run"`
	ReleasedConversations []ConversationReport `json:"released_conversations"`
	SkippedConversations  []ConversationReport `json:"skipped_conversations"`
}

type Reconciler struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	states   *convstate.Store
	poolSize int
}

func New(db *gorm.DB, led *ledger.Ledger, states *convstate.Store) *Reconciler {
	return &Reconciler{db: db, ledger: led, states: states, poolSize: defaultPoolSize}
}

// Sweep finds operator-owned conversations past the timeout, skips the ones
// where the operator has replied since the takeover, and releases the rest
// back to the AI. With DryRun set it reports would-be releases without
// mutating any state.
//
// The operator-replied check is evaluated at read time, so a reply landing
// mid-sweep can be missed and the conversation released anyway. That race is
// accepted: an AI message to an already engaged customer is an
// inconvenience, not corruption.
func (r *Reconciler) Sweep(ctx context.Context, opts Options) (*Summary, error) {
	timeout := opts.TimeoutMinutes
	if timeout <= 0 {
		timeout = DefaultTimeoutMinutes
	}
	now := time.Now()
	cutoff := now.Add(-time.Duration(timeout) * time.Minute)

	var stale []domain.ConversationState
	err := r.db.WithContext(ctx).
		Where("is_ai_active = ? AND operator_takeover_at IS NOT NULL AND operator_takeover_at < ?", false, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, errors.Wrap(err, "reconciler: query stale states")
	}

	summary := &Summary{
		TotalChecked:          len(stale),
		DryRun:                opts.DryRun,
		ReleasedConversations: []ConversationReport{},
		SkippedConversations:  []ConversationReport{},
	}
	if len(stale) == 0 {
		return summary, nil
	}

	pool, err := ants.NewPool(r.poolSize)
	if err != nil {
		return nil, errors.Wrap(err, "reconciler: worker pool")
	}
	defer pool.Release()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range stale {
		st := stale[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			report := ConversationReport{
				Phone:         st.Phone,
				OperatorID:    st.OperatorID,
				TakenOverAt:   st.OperatorTakeoverAt.Format(time.RFC3339),
				MinutesWaited: int(now.Sub(*st.OperatorTakeoverAt).Minutes()),
			}

			replied, err := r.ledger.HasOutboundSince(ctx, st.Phone, *st.OperatorTakeoverAt)
			if err != nil {
				// Do not release on an uncertain read; skip and let the next
				// sweep retry.
				zap.L().Warn("reconciler: ledger check failed, skipping",
					zap.String("phone", st.Phone), zap.Error(err))
				mu.Lock()
				summary.Skipped++
				summary.SkippedConversations = append(summary.SkippedConversations, report)
				mu.Unlock()
				return
			}
			if replied {
				mu.Lock()
				summary.Skipped++
				summary.SkippedConversations = append(summary.SkippedConversations, report)
				mu.Unlock()
				return
			}

			if !opts.DryRun {
				if err := r.states.TimeoutRelease(ctx, st.Phone); err != nil {
					zap.L().Error("reconciler: release failed",
						zap.String("phone", st.Phone), zap.Error(err))
					mu.Lock()
					summary.Skipped++
					summary.SkippedConversations = append(summary.SkippedConversations, report)
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			summary.Released++
			summary.ReleasedConversations = append(summary.ReleasedConversations, report)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			zap.L().Error("reconciler: submit failed", zap.Error(submitErr))
		}
	}
	wg.Wait()

	zap.L().Info("reconciler: sweep finished",
		zap.Int("total_checked", summary.TotalChecked),
		zap.Int("released", summary.Released),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("dry_run", summary.DryRun),
		zap.Int("timeout_minutes", timeout))
	return summary, nil
}
