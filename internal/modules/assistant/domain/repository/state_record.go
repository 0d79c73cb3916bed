package repository

import "time"

// 结构化存储里按用户保存 JSON 状态的表
const (
	TableAwarenessState       = "assistant_awareness_state"
	TableMemoryState          = "assistant_memory_state"
	TableNotificationSettings = "assistant_notification_settings"
)

// StateTables 需要自动迁移的状态表
var StateTables = []string{TableAwarenessState, TableMemoryState, TableNotificationSettings}

// StateRecord 一行一个用户，Payload 为整条状态的 JSON
type StateRecord struct {
	UserID    string    `gorm:"column:user_id;type:varchar(64);primaryKey"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}
