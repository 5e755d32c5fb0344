// Package convstate is the single source of truth for conversation
// ownership: for every phone number, whether the automated agent or a human
// operator currently owns the conversation. Writes are upserts keyed by
// phone number, last writer wins; each phone number is an independent unit
// of state so no cross-row coordination is needed.
package convstate

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/pkg/ids"
)

// TopicOwnership is the event bus topic for ownership transitions.
const TopicOwnership = "convstate:ownership"

// Ownership transition event names.
const (
	EventClaimed         = "claimed"
	EventReleased        = "released"
	EventTimeoutReleased = "timeout_released"
)

// OwnershipChange is published on TopicOwnership whenever ownership moves
// between the AI and an operator.
type OwnershipChange struct {
	Phone      string
	Event      string
	OperatorID *int64
	At         time.Time
}

type Store struct {
	db  *gorm.DB
	bus EventBus.Bus
}

// New creates a Store. The bus may be nil when no audit trail is wanted
// (tests mostly).
func New(db *gorm.DB, bus EventBus.Bus) *Store {
	return &Store{db: db, bus: bus}
}

// GetState returns the ownership state for a phone number. When no row
// exists the default state is returned: AI active, no operator. It never
// fails on missing rows.
func (s *Store) GetState(ctx context.Context, phone string) (*domain.ConversationState, error) {
	var st domain.ConversationState
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ConversationState{Phone: phone, IsAiActive: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "convstate: get state")
	}
	return &st, nil
}

// ClaimByOperator hands the conversation to a human operator. Safe to call
// repeatedly; the takeover timestamp is last-write-wins.
func (s *Store) ClaimByOperator(ctx context.Context, phone string, operatorID int64) error {
	now := time.Now()
	st := &domain.ConversationState{
		ID:                 ids.Next(),
		Phone:              phone,
		IsAiActive:         false,
		OperatorTakeoverAt: &now,
		OperatorID:         &operatorID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_ai_active":         false,
			"operator_takeover_at": now,
			"operator_id":          operatorID,
			"updated_at":           now,
		}),
	}).Create(st).Error
	if err != nil {
		return errors.Wrap(err, "convstate: claim by operator")
	}
	s.publish(OwnershipChange{Phone: phone, Event: EventClaimed, OperatorID: &operatorID, At: now})
	return nil
}

// ReleaseToAi returns the conversation to the automated agent, clearing the
// operator identity and takeover timestamp. Used by the explicit hand-back
// action.
func (s *Store) ReleaseToAi(ctx context.Context, phone string) error {
	return s.release(ctx, phone, EventReleased)
}

// TimeoutRelease is the reconciler's release path. Same mutation as
// ReleaseToAi but audited as a timeout release.
func (s *Store) TimeoutRelease(ctx context.Context, phone string) error {
	return s.release(ctx, phone, EventTimeoutReleased)
}

func (s *Store) release(ctx context.Context, phone string, event string) error {
	now := time.Now()
	st := &domain.ConversationState{
		ID:         ids.Next(),
		Phone:      phone,
		IsAiActive: true,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_ai_active":         true,
			"operator_takeover_at": nil,
			"operator_id":          nil,
			"updated_at":           now,
		}),
	}).Create(st).Error
	if err != nil {
		return errors.Wrap(err, "convstate: release to ai")
	}
	s.publish(OwnershipChange{Phone: phone, Event: event, At: now})
	return nil
}

// RecordAiSend updates the last AI message timestamp. It never changes
// ownership.
func (s *Store) RecordAiSend(ctx context.Context, phone string) error {
	return s.touch(ctx, phone, "last_ai_message_at")
}

// RecordHumanSend updates the last human message timestamp. It never changes
// ownership; the reconciler reads this and the ledger to decide releases.
func (s *Store) RecordHumanSend(ctx context.Context, phone string) error {
	return s.touch(ctx, phone, "last_human_message_at")
}

// touch upserts a timestamp column. A lazily created row must come out
// AI-owned, the same default GetState reports for missing rows; the update
// path leaves ownership columns alone.
func (s *Store) touch(ctx context.Context, phone string, column string) error {
	now := time.Now()
	st := &domain.ConversationState{
		ID:         ids.Next(),
		Phone:      phone,
		IsAiActive: true,
	}
	switch column {
	case "last_ai_message_at":
		st.LastAiMessageAt = &now
	case "last_human_message_at":
		st.LastHumanMessageAt = &now
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       now,
			"updated_at": now,
		}),
	}).Create(st).Error
	return errors.Wrapf(err, "convstate: touch %s", column)
}

func (s *Store) publish(change OwnershipChange) {
	if s.bus != nil {
		s.bus.Publish(TopicOwnership, change)
	}
}
