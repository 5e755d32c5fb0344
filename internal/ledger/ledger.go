// Package ledger is the durable, idempotent store of inbound and outbound
// WhatsApp messages. Dedup is keyed by the provider message id through a
// uniqueness constraint, so duplicate webhook deliveries and duplicate relay
// callbacks collapse into a single row even under concurrent writes.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/pkg/ids"
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Record persists a message. When the provider message id is already stored
// the existing row is returned unchanged; the conditional insert makes this
// safe to call concurrently from duplicate webhook deliveries. Messages
// without a provider id get a synthetic id that never participates in dedup.
func (l *Ledger) Record(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.ID == 0 {
		msg.ID = ids.Next()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.WaMessageID != nil && *msg.WaMessageID == "" {
		msg.WaMessageID = nil
	}

	if msg.WaMessageID == nil {
		msg.SyntheticID = uuid.NewString()
		if err := l.db.WithContext(ctx).Create(msg).Error; err != nil {
			return nil, errors.Wrap(err, "ledger: create message")
		}
		return msg, nil
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wa_message_id"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "ledger: record message")
	}
	if res.RowsAffected == 0 {
		// Duplicate provider id: another delivery won the insert.
		existing, err := l.FindByProviderID(ctx, *msg.WaMessageID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.Errorf("ledger: duplicate insert for %s but row not found", *msg.WaMessageID)
		}
		zap.L().Debug("ledger: absorbed duplicate message",
			zap.String("wa_message_id", *msg.WaMessageID))
		return existing, nil
	}
	return msg, nil
}

// FindByProviderID returns the message stored under the provider id, or nil
// when none exists.
func (l *Ledger) FindByProviderID(ctx context.Context, waMessageID string) (*domain.Message, error) {
	var msg domain.Message
	err := l.db.WithContext(ctx).Where("wa_message_id = ?", waMessageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "ledger: find by provider id")
	}
	return &msg, nil
}

// AttachProviderID sets the provider message id on an already recorded
// message, used after a synchronous Cloud API send confirms. It is a no-op
// when the row already carries a provider id.
func (l *Ledger) AttachProviderID(ctx context.Context, id int64, waMessageID string) error {
	if waMessageID == "" {
		return nil
	}
	err := l.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND wa_message_id IS NULL", id).
		Update("wa_message_id", waMessageID).Error
	return errors.Wrap(err, "ledger: attach provider id")
}

// SetStatus updates the delivery status of a recorded message.
func (l *Ledger) SetStatus(ctx context.Context, id int64, status string) error {
	err := l.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).
		Update("status", status).Error
	return errors.Wrap(err, "ledger: set status")
}

// HasOutboundSince reports whether any outbound message to the given phone
// number is timestamped after the given instant. The reconciler uses this to
// tell an active operator from a silent one.
func (l *Ledger) HasOutboundSince(ctx context.Context, phone string, since time.Time) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&domain.Message{}).
		Where("to_phone = ? AND direction = ? AND timestamp > ?", phone, domain.DirectionOutbound, since).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "ledger: outbound since")
	}
	return count > 0, nil
}

// ListByPhone returns the most recent messages exchanged with a phone number,
// newest first.
func (l *Ledger) ListByPhone(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var msgs []domain.Message
	err := l.db.WithContext(ctx).
		Where("to_phone = ? OR from_phone = ?", phone, phone).
		Order("timestamp DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "ledger: list by phone")
	}
	return msgs, nil
}

// PurgeOlderThan deletes messages older than the cutoff and returns the
// number of removed rows. Used by the retention job.
func (l *Ledger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&domain.Message{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "ledger: purge")
	}
	return res.RowsAffected, nil
}
