package memory

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// MaxTurns 短期记忆保留的轮数
	MaxTurns = 5
	// ContextScanTurns 推断 RecentContext 时扫描的用户轮数
	ContextScanTurns = 3
)

// Turn 一轮对话
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTermMemory 每个用户的短期对话环形缓冲
type ShortTermMemory struct {
	UserID        string `json:"userId"`
	Conversations []Turn `json:"conversations"`
}

// Append 追加并截断到最近 MaxTurns 条
func (m *ShortTermMemory) Append(t Turn) {
	m.Conversations = append(m.Conversations, t)
	if over := len(m.Conversations) - MaxTurns; over > 0 {
		m.Conversations = append([]Turn(nil), m.Conversations[over:]...)
	}
}

// RecentContext 基于关键词的近似上下文，不是语义解析
type RecentContext struct {
	LastCustomer string `json:"lastCustomer,omitempty"`
	LastTopic    string `json:"lastTopic,omitempty"`
	LastDate     string `json:"lastDate,omitempty"`
}

// Empty 是否没有推断出任何信息
func (c RecentContext) Empty() bool {
	return c.LastCustomer == "" && c.LastTopic == "" && c.LastDate == ""
}
