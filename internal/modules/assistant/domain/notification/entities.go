package notification

import (
	"encoding/json"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
)

// Category 通知分类，固定 10 种
type Category string

const (
	CategoryCustomer     Category = "customer"
	CategoryAppointment  Category = "appointment"
	CategoryProperty     Category = "property"
	CategoryPlatform     Category = "platform"
	CategorySocial       Category = "social"
	CategoryBusinessCard Category = "business_card"
	CategoryAnalytics    Category = "analytics"
	CategoryRequest      Category = "request"
	CategoryOffer        Category = "offer"
	CategorySystem       Category = "system"
)

// AllCategories 按固定顺序列出全部分类
var AllCategories = []Category{
	CategoryCustomer, CategoryAppointment, CategoryProperty, CategoryPlatform, CategorySocial,
	CategoryBusinessCard, CategoryAnalytics, CategoryRequest, CategoryOffer, CategorySystem,
}

// Valid 是否为已知分类
func (c Category) Valid() bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// 外部事件使用的严重级别
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// PriorityFromSeverity info/warning/critical -> 优先级，未知值按 normal 处理
func PriorityFromSeverity(severity string) Priority {
	switch severity {
	case SeverityCritical:
		return PriorityCritical
	case SeverityWarning:
		return PriorityHigh
	case SeverityInfo, "":
		return PriorityNormal
	}
	if p := Priority(severity); p.Valid() {
		return p
	}
	return PriorityNormal
}

// MaxStored 本地存储上限，超出时静默淘汰最旧的
const MaxStored = 1000

// Notification 通知实体；列表按插入顺序倒序（最新在前），不按 CreatedAt 排
type Notification struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	Category    Category               `json:"category"`
	Priority    Priority               `json:"priority"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Icon        string                 `json:"icon,omitempty"`
	RelatedID   string                 `json:"relatedId,omitempty"`
	RelatedType string                 `json:"relatedType,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Actions     []assistant.Action     `json:"actions,omitempty"`
	Read        bool                   `json:"read"`
	Archived    bool                   `json:"archived"`
	CreatedAt   time.Time              `json:"createdAt"`
	ReadAt      *time.Time             `json:"readAt,omitempty"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
}

// Expired 是否已过期；ExpiresAt 为空视为永不过期
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// Settings 用户通知设置；Categories 缺失的分类按关闭处理
type Settings struct {
	UserID     string            `json:"userId"`
	Enabled    bool              `json:"enabled"`
	Categories map[Category]bool `json:"categories"`
	Sound      bool              `json:"sound"`
	Desktop    bool              `json:"desktop"`
}

// DefaultSettings 全部分类开启
func DefaultSettings(userID string) Settings {
	cats := make(map[Category]bool, len(AllCategories))
	for _, c := range AllCategories {
		cats[c] = true
	}
	return Settings{UserID: userID, Enabled: true, Categories: cats, Sound: true, Desktop: false}
}

// Allows 设置是否允许该分类
func (s Settings) Allows(c Category) bool {
	return s.Enabled && s.Categories[c]
}

// Summary 通知分析汇总
type Summary struct {
	Total      int              `json:"total"`
	Unread     int              `json:"unread"`
	BySource   map[string]int   `json:"bySource"`
	ByCategory map[Category]int `json:"byCategory"`
	ByType     map[string]int   `json:"byType"`
	Recent     []*Notification  `json:"recent"`
}

// Filter 列表查询条件
type Filter struct {
	UserID     string
	UnreadOnly bool
	Source     string
	Category   Category
}

// Match 判断通知是否满足过滤条件
func (f Filter) Match(n *Notification) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	if f.Source != "" && n.Source != f.Source {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	return true
}

// Record 结构化存储中的通知行，Seq 越大越新
type Record struct {
	Id           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Seq          int64      `gorm:"column:seq;index;not null"`
	NotifID      string     `gorm:"column:notification_id;type:varchar(64);uniqueIndex;not null"`
	UserID       string     `gorm:"column:user_id;type:varchar(64);index"`
	Category     string     `gorm:"column:category;type:varchar(32);not null"`
	Priority     string     `gorm:"column:priority;type:varchar(16);not null"`
	Title        string     `gorm:"column:title;type:varchar(255)"`
	Message      string     `gorm:"column:message;type:text"`
	Icon         string     `gorm:"column:icon;type:varchar(64)"`
	RelatedID    string     `gorm:"column:related_id;type:varchar(64)"`
	RelatedType  string     `gorm:"column:related_type;type:varchar(32)"`
	Source       string     `gorm:"column:source;type:varchar(64)"`
	Type         string     `gorm:"column:type;type:varchar(64)"`
	MetadataJson string     `gorm:"column:metadata_json;type:text"`
	ActionsJson  string     `gorm:"column:actions_json;type:text"`
	Read         bool       `gorm:"column:is_read;not null;default:false"`
	Archived     bool       `gorm:"column:archived;not null;default:false"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	ReadAt       *time.Time `gorm:"column:read_at"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
}

func (Record) TableName() string {
	return "assistant_notification"
}

// ToRecord 实体转存储行
func ToRecord(n *Notification, seq int64) Record {
	r := Record{
		Seq:         seq,
		NotifID:     n.ID,
		UserID:      n.UserID,
		Category:    string(n.Category),
		Priority:    string(n.Priority),
		Title:       n.Title,
		Message:     n.Message,
		Icon:        n.Icon,
		RelatedID:   n.RelatedID,
		RelatedType: n.RelatedType,
		Source:      n.Source,
		Type:        n.Type,
		Read:        n.Read,
		Archived:    n.Archived,
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
		ExpiresAt:   n.ExpiresAt,
	}
	if len(n.Metadata) > 0 {
		if b, err := json.Marshal(n.Metadata); err == nil {
			r.MetadataJson = string(b)
		}
	}
	if len(n.Actions) > 0 {
		if b, err := json.Marshal(n.Actions); err == nil {
			r.ActionsJson = string(b)
		}
	}
	return r
}

// ToEntity 存储行转实体，JSON 字段损坏时忽略该字段
func (r Record) ToEntity() *Notification {
	n := &Notification{
		ID:          r.NotifID,
		UserID:      r.UserID,
		Category:    Category(r.Category),
		Priority:    Priority(r.Priority),
		Title:       r.Title,
		Message:     r.Message,
		Icon:        r.Icon,
		RelatedID:   r.RelatedID,
		RelatedType: r.RelatedType,
		Source:      r.Source,
		Type:        r.Type,
		Read:        r.Read,
		Archived:    r.Archived,
		CreatedAt:   r.CreatedAt,
		ReadAt:      r.ReadAt,
		ExpiresAt:   r.ExpiresAt,
	}
	if r.MetadataJson != "" {
		_ = json.Unmarshal([]byte(r.MetadataJson), &n.Metadata)
	}
	if r.ActionsJson != "" {
		_ = json.Unmarshal([]byte(r.ActionsJson), &n.Actions)
	}
	return n
}
