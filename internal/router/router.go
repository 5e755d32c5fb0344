// Package router delivers outbound messages through the delivery channel
// the conversation's department prescribes, keeping the ledger write and the
// external send consistent: the message is recorded before the channel is
// invoked, so a record exists even when the external call fails or times
// out.
package router

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitcodr/waplane/internal/convstate"
	"github.com/bitcodr/waplane/internal/department"
	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/ledger"
	"github.com/bitcodr/waplane/pkg/ids"
)

// Message origin, decides which "last message" timestamp a send updates.
const (
	OriginAi       = "ai"
	OriginOperator = "operator"
)

// SendRequest describes one outbound message.
type SendRequest struct {
	To             string `json:"to"`
	Text           string `json:"text"`
	MediaURL       string `json:"media_url"`
	MediaType      string `json:"media_type"`
	ConversationID int64  `json:"conversation_id,string"`
	DepartmentCode string `json:"department_code"`
	AttendantName  string `json:"attendant_name"`
	Origin         string `json:"origin"` // ai | operator
}

// SendResult is returned to the caller; failures are values, not panics.
type SendResult struct {
	Success     bool   `json:"success"`
	MessageID   int64  `json:"message_id,string"`
	WaMessageID string `json:"wa_message_id,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Router struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	states        *convstate.Store
	departments   *department.Resolver
	relay         ChannelClient
	cloud         ChannelClient
	businessPhone string
}

func New(db *gorm.DB, led *ledger.Ledger, states *convstate.Store,
	departments *department.Resolver, relay, cloud ChannelClient, businessPhone string) *Router {
	return &Router{
		db:            db,
		ledger:        led,
		states:        states,
		departments:   departments,
		relay:         relay,
		cloud:         cloud,
		businessPhone: businessPhone,
	}
}

// Send delivers one outbound message. The ledger write happens before the
// external call and is never rolled back: a failed send leaves the row
// behind with a failed status so conversation history is never silently
// incomplete. Retries are the caller's responsibility.
func (r *Router) Send(ctx context.Context, req SendRequest) SendResult {
	phone, err := NormalizePhone(req.To)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	if req.Text == "" && req.MediaURL == "" {
		return SendResult{Error: "nothing to send: text and media_url are both empty"}
	}

	dept, err := r.resolveDepartment(ctx, phone, req.DepartmentCode)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	channel := department.ChannelFor(dept)
	deptCode := ""
	if dept != nil {
		deptCode = dept.Code
	}

	msg := &domain.Message{
		Direction:      domain.DirectionOutbound,
		FromPhone:      r.businessPhone,
		ToPhone:        phone,
		Body:           req.Text,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		DepartmentCode: deptCode,
		AttendantName:  req.AttendantName,
		Channel:        channel,
		Status:         domain.MsgStatusPending,
		Timestamp:      time.Now(),
	}
	if req.ConversationID != 0 {
		msg.ConversationID = &req.ConversationID
	}
	rec, err := r.ledger.Record(ctx, msg)
	if err != nil {
		return SendResult{Error: err.Error()}
	}

	client := r.cloud
	if channel == domain.ChannelRelay {
		client = r.relay
	}
	providerID, sendErr := client.Send(ctx, OutboundMessage{
		To:             phone,
		Text:           req.Text,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		ConversationID: rec.ID,
		AttendantName:  req.AttendantName,
		DepartmentCode: deptCode,
	})
	if sendErr != nil {
		if err := r.ledger.SetStatus(ctx, rec.ID, domain.MsgStatusFailed); err != nil {
			zap.L().Warn("router: failed to mark message failed",
				zap.Int64("message_id", rec.ID), zap.Error(err))
		}
		zap.L().Warn("router: delivery failed",
			zap.String("to", phone),
			zap.String("channel", channel),
			zap.Error(sendErr))
		return SendResult{MessageID: rec.ID, Channel: channel, Error: sendErr.Error()}
	}

	if providerID != "" {
		if err := r.ledger.AttachProviderID(ctx, rec.ID, providerID); err != nil {
			zap.L().Warn("router: failed to attach provider id",
				zap.Int64("message_id", rec.ID), zap.Error(err))
		}
	}
	if err := r.ledger.SetStatus(ctx, rec.ID, domain.MsgStatusSent); err != nil {
		zap.L().Warn("router: failed to mark message sent",
			zap.Int64("message_id", rec.ID), zap.Error(err))
	}

	r.afterSend(ctx, phone, req.Origin)

	zap.L().Info("router: message sent",
		zap.String("to", phone),
		zap.String("channel", channel),
		zap.String("department", deptCode))
	return SendResult{Success: true, MessageID: rec.ID, WaMessageID: providerID, Channel: channel}
}

func (r *Router) resolveDepartment(ctx context.Context, phone, code string) (*domain.Department, error) {
	if code != "" {
		return r.departments.ByCode(ctx, code)
	}
	return r.departments.Resolve(ctx, phone)
}

// afterSend updates conversational bookkeeping. Best effort: a timestamp
// miss is logged, not surfaced, because the message is already on the wire.
func (r *Router) afterSend(ctx context.Context, phone, origin string) {
	now := time.Now()
	conv := &domain.Conversation{
		ID:            ids.Next(),
		Phone:         phone,
		LastMessageAt: &now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_message_at": now,
			"updated_at":      now,
		}),
	}).Create(conv).Error
	if err != nil {
		zap.L().Warn("router: failed to touch conversation", zap.String("phone", phone), zap.Error(err))
	}

	if origin == OriginOperator {
		err = r.states.RecordHumanSend(ctx, phone)
	} else {
		err = r.states.RecordAiSend(ctx, phone)
	}
	if err != nil {
		zap.L().Warn("router: failed to record send timestamp", zap.String("phone", phone), zap.Error(err))
	}
}
