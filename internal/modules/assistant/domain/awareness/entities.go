package awareness

import "time"

// MaxRecentEntities 最近实体上限
const MaxRecentEntities = 10

const (
	EntityCustomer     = "customer"
	EntityAppointment  = "appointment"
	EntityProperty     = "property"
	EntityNotification = "notification"
)

type Entity struct {
	Type string    `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
	TS   time.Time `json:"ts"`
}

type Opened struct {
	Page string    `json:"page"`
	ID   string    `json:"id,omitempty"`
	TS   time.Time `json:"ts"`
}

type Intent struct {
	Name string    `json:"name"`
	TS   time.Time `json:"ts"`
}

// State 每个用户的感知状态
type State struct {
	UserID         string   `json:"userId"`
	LastIntent     *Intent  `json:"lastIntent,omitempty"`
	RecentEntities []Entity `json:"recentEntities"`
	LastOpened     *Opened  `json:"lastOpened,omitempty"`
}

// PushEntity 头插，超过上限丢弃最旧的
func (s *State) PushEntity(e Entity) {
	list := make([]Entity, 0, MaxRecentEntities)
	list = append(list, e)
	list = append(list, s.RecentEntities...)
	if len(list) > MaxRecentEntities {
		list = list[:MaxRecentEntities]
	}
	s.RecentEntities = list
}

// LastOfType 最近一个指定类型的实体
func (s *State) LastOfType(entityType string) (Entity, bool) {
	for _, e := range s.RecentEntities {
		if e.Type == entityType {
			return e, true
		}
	}
	return Entity{}, false
}

// LastIntentName 没有记录时返回空串
func (s *State) LastIntentName() string {
	if s == nil || s.LastIntent == nil {
		return ""
	}
	return s.LastIntent.Name
}
