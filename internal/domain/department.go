package domain

import "time"

// Delivery channels. Which channel a department routes through is data in
// the department table, not a conditional in routing code.
const (
	ChannelRelay = "relay"
	ChannelCloud = "cloud"
)

// Well-known department codes seeded at startup.
const (
	DeptLeasing        = "leasing"
	DeptSales          = "sales"
	DeptAdministrative = "administrative"
	DeptMarketing      = "marketing"
	DeptNewDevelopment = "new_development"
)

// Department maps a business department to its delivery channel and AI
// behavior.
type Department struct {
	ID        int64     `json:"id,string" form:"id"`
	Code      string    `gorm:"uniqueIndex" json:"code" form:"code"`
	Name      string    `json:"name" form:"name"`
	Channel   string    `json:"channel" form:"channel"` // relay | cloud
	AiEnabled bool      `json:"ai_enabled" form:"ai_enabled"`
	Status    string    `json:"status" form:"status"` // enabled | disabled
	Remark    string    `json:"remark" form:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Department) TableName() string {
	return "department"
}
