package convstate

import (
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/pkg/ids"
)

// AuditRecorder appends ownership transitions to the ownership_event table.
// The current-state row is overwritten in place, so this log is the only
// record of who owned a conversation when.
type AuditRecorder struct {
	db *gorm.DB
}

func NewAuditRecorder(db *gorm.DB) *AuditRecorder {
	return &AuditRecorder{db: db}
}

// Subscribe registers the recorder on the ownership topic.
func (r *AuditRecorder) Subscribe(bus EventBus.Bus) error {
	return bus.Subscribe(TopicOwnership, r.onChange)
}

func (r *AuditRecorder) onChange(change OwnershipChange) {
	ev := &domain.OwnershipEvent{
		ID:         ids.Next(),
		Phone:      change.Phone,
		Event:      change.Event,
		OperatorID: change.OperatorID,
		At:         change.At,
	}
	if err := r.db.Create(ev).Error; err != nil {
		zap.L().Warn("convstate: failed to record ownership event",
			zap.String("phone", change.Phone),
			zap.String("event", change.Event),
			zap.Error(err))
	}
}
