package domain

import "time"

// Conversation module related models

// Conversation is one WhatsApp conversation, keyed by normalized phone number.
// DepartmentCode stays empty until the conversation goes through triage.
type Conversation struct {
	ID             int64      `json:"id,string" form:"id"`                       // Primary key ID
	Phone          string     `gorm:"uniqueIndex" json:"phone" form:"phone"`     // Normalized phone (E.164 digits)
	ContactName    string     `json:"contact_name" form:"contact_name"`          // WhatsApp profile name (best effort)
	DepartmentCode string     `gorm:"index" json:"department_code" form:"department_code"` // Empty = un-triaged
	StageID        string     `json:"stage_id" form:"stage_id"`                  // Pipeline position (optional)
	LastMessageAt  *time.Time `json:"last_message_at"`                           // Time of last message either direction
	Remark         string     `json:"remark" form:"remark"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName Specify table name
func (Conversation) TableName() string {
	return "conversation"
}

// ConversationState records who currently owns a conversation: the automated
// agent or a human operator. One row per phone number, upsert semantics.
//
// Invariant: IsAiActive = true implies OperatorTakeoverAt is null, and
// OperatorTakeoverAt != null implies IsAiActive = false.
type ConversationState struct {
	ID                 int64      `json:"id,string" form:"id"`
	Phone              string     `gorm:"uniqueIndex" json:"phone" form:"phone"`
	IsAiActive         bool       `json:"is_ai_active" form:"is_ai_active"`
	OperatorTakeoverAt *time.Time `json:"operator_takeover_at"` // Set when a human claims ownership
	OperatorID         *int64     `json:"operator_id,string"`   // Identity of the claiming operator
	LastHumanMessageAt *time.Time `json:"last_human_message_at"`
	LastAiMessageAt    *time.Time `json:"last_ai_message_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName Specify table name
func (ConversationState) TableName() string {
	return "conversation_state"
}

// OwnershipEvent is an append-only audit record of ownership transitions.
// The mutable ConversationState row keeps no history, so claims, releases
// and timeout releases are logged here by the event bus subscriber.
type OwnershipEvent struct {
	ID         int64     `json:"id,string"`
	Phone      string    `gorm:"index" json:"phone"`
	Event      string    `json:"event"` // claimed | released | timeout_released
	OperatorID *int64    `json:"operator_id,string"`
	At         time.Time `json:"at"`
}

// TableName Specify table name
func (OwnershipEvent) TableName() string {
	return "ownership_event"
}
