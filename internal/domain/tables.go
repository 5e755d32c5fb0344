package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOperator{},
	&SysOprLog{},
	// Conversations
	&Conversation{},
	&ConversationState{},
	&OwnershipEvent{},
	// Messaging
	&Message{},
	&Department{},
	// Jobs
	&BizScheduler{},
}
