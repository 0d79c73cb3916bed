package assistant

// 意图常量，IntentRouter 只会产出这里列出的值
const (
	IntentGreeting             = "greeting"
	IntentThanks               = "thanks"
	IntentHelp                 = "help"
	IntentSearchCustomer       = "search_customer"
	IntentSearchAppointment    = "search_appointment"
	IntentSearchArchive        = "search_archive"
	IntentScheduleAppointment  = "schedule_appointment"
	IntentNotificationsSummary = "notifications_summary"
	IntentOpenClients          = "open_clients"
	IntentOpenCalendar         = "open_calendar"
	IntentOpenListings         = "open_listings"
	IntentOpenNotifications    = "open_notifications"
	IntentOpenSettings         = "open_settings"
	IntentOpenDashboard        = "open_dashboard"
	IntentConfirmNavigation    = "confirm_navigation"
	IntentUnknown              = "unknown"
)

// Action 类型常量，由外部 Action 执行器映射到具体页面或接口
const (
	ActionOpenClients         = "open_clients"
	ActionOpenCalendar        = "open_calendar"
	ActionOpenListings        = "open_listings"
	ActionOpenNotifications   = "open_notifications"
	ActionOpenSettings        = "open_settings"
	ActionOpenDashboard       = "open_dashboard"
	ActionSearchArchive       = "search_archive"
	ActionOpenCustomer        = "open_customer"
	ActionScheduleAppointment = "schedule_appointment"
	ActionOpenAppointment     = "open_appointment"
	ActionSelectCustomer      = "select_customer"
	ActionPickCustomer        = "pick_customer"
	ActionProceedNavigation   = "proceed_navigation"
	ActionStay                = "stay"
	ActionShowHelp            = "show_help"
)

// navigationIntents 导航意图 -> 目标页面
var navigationIntents = map[string]string{
	IntentOpenClients:       "clients",
	IntentOpenCalendar:      "calendar",
	IntentOpenListings:      "listings",
	IntentOpenNotifications: "notifications",
	IntentOpenSettings:      "settings",
	IntentOpenDashboard:     "dashboard",
}

// IsNavigation 判断是否为导航类意图
func IsNavigation(intent string) bool {
	_, ok := navigationIntents[intent]
	return ok
}

// PageOf 返回导航意图对应的页面名
func PageOf(intent string) string {
	return navigationIntents[intent]
}

// Action 交给外部执行器的指令，内核本身不执行
type Action struct {
	Type   string                 `json:"type"`
	Label  string                 `json:"label,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// IntentResult 意图路由结果；Intent=unknown 且 Reply 为空表示路由无法分类
type IntentResult struct {
	Intent  string      `json:"intent"`
	Data    interface{} `json:"data,omitempty"`
	Actions []Action    `json:"actions,omitempty"`
	Reply   string      `json:"reply,omitempty"`
}

// Unclassified 路由无法识别，触发 LLM 兜底
func (r *IntentResult) Unclassified() bool {
	return r == nil || (r.Intent == IntentUnknown && r.Reply == "")
}

// Update 推给消息出口（UI）的一条增量
type Update struct {
	UserID  string   `json:"userId"`
	Intent  string   `json:"intent"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// MessageSink 消息出口，由调用方提供
type MessageSink func(update Update)

// Pending 多轮槽位填充中尚未完成的流程
type Pending struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// TurnContext 单次调用的上下文对象，调用方在多轮之间回传
type TurnContext struct {
	Pending   *Pending               `json:"pending,omitempty"`
	Confirmed bool                   `json:"confirmed,omitempty"` // 用户已在确认框中选择继续导航
	Extra     map[string]interface{} `json:"extra,omitempty"`
}
