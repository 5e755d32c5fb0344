package domain

import "time"

// Message direction
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery status
const (
	MsgStatusPending  = "pending"
	MsgStatusSent     = "sent"
	MsgStatusFailed   = "failed"
	MsgStatusReceived = "received"
)

// Message is one ledger entry, immutable once written. WaMessageID is the
// provider-assigned id and the dedup key; it is null for messages the
// provider has not acknowledged yet, in which case SyntheticID holds a
// locally generated id that is never used for dedup matching.
type Message struct {
	ID             int64      `json:"id,string" form:"id"`
	WaMessageID    *string    `gorm:"uniqueIndex" json:"wa_message_id"` // Provider message id, unique when present
	SyntheticID    string     `json:"synthetic_id"`                     // Local id when no provider id exists
	Direction      string     `gorm:"index" json:"direction"`           // inbound | outbound
	FromPhone      string     `json:"from_phone" form:"from_phone"`
	ToPhone        string     `gorm:"index" json:"to_phone" form:"to_phone"`
	Body           string     `json:"body" form:"body"`
	MediaURL       string     `json:"media_url" form:"media_url"`
	MediaType      string     `json:"media_type" form:"media_type"` // image | audio | video | document
	ConversationID *int64     `gorm:"index" json:"conversation_id,string"` // Resolved best effort, may be null
	DepartmentCode string     `json:"department_code" form:"department_code"`
	AttendantName  string     `json:"attendant_name" form:"attendant_name"`
	Channel        string     `json:"channel"` // relay | cloud
	Status         string     `json:"status"`  // pending | sent | failed | received
	Timestamp      time.Time  `gorm:"index" json:"timestamp"`
	DeletedByUser  bool       `json:"deleted_by_user"`
	DeletedForAll  bool       `json:"deleted_for_all"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName Specify table name
func (Message) TableName() string {
	return "message"
}
