package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// SearchData 检索类意图的结果；Err 非空表示业务接口调用失败
type SearchData struct {
	Query        string                     `json:"query"`
	Customers    []collaborator.Customer    `json:"customers,omitempty"`
	Appointments []collaborator.Appointment `json:"appointments,omitempty"`
	Archive      []collaborator.ArchiveHit  `json:"archive,omitempty"`
	Err          error                      `json:"-"`
}

// Count 命中条数
func (d *SearchData) Count() int {
	return len(d.Customers) + len(d.Appointments) + len(d.Archive)
}

// ScheduleData 预约意图抽取出的槽位，缺失的槽位为空字符串
type ScheduleData struct {
	Customer string `json:"customer,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
}

// Complete 日期和时间都已给出
func (d *ScheduleData) Complete() bool {
	return d.Date != "" && d.Time != ""
}

// IntentRouter 基于规则的意图分类，检索类意图会调用业务接口
type IntentRouter interface {
	Handle(ctx context.Context, userID, text string, recent memory.RecentContext) *assistant.IntentResult
}

type intentRouterImpl struct {
	customers    collaborator.CustomerDirectory
	appointments collaborator.AppointmentCalendar
	archive      collaborator.ArchiveSearch
}

func NewIntentRouter(customers collaborator.CustomerDirectory, appointments collaborator.AppointmentCalendar,
	archive collaborator.ArchiveSearch) IntentRouter {
	return &intentRouterImpl{customers: customers, appointments: appointments, archive: archive}
}

var (
	greetingRe     = regexp.MustCompile(`^(hi|hello|hey|hiya|good (morning|afternoon|evening)|salam|marhaba)\b`)
	thanksRe       = regexp.MustCompile(`\b(thanks|thank you|thx|cheers)\b`)
	helpRe         = regexp.MustCompile(`^(help|\?)$|\bwhat can you do\b|\bhow do i use\b|\bhelp me\b`)
	summaryRe      = regexp.MustCompile(`\b(unread|summary|summarize|how many|any new|what's new|whats new)\b.*\b(notifications?|alerts?)\b|\b(notifications?|alerts?)\b.*\b(summary|unread)\b`)
	scheduleRe     = regexp.MustCompile(`\b(schedule|book|arrange|set up|plan)\b`)
	searchVerbRe   = regexp.MustCompile(`\b(find|search|look up|lookup|look for|who is|where is|when is)\b`)
	archiveRe      = regexp.MustCompile(`\b(archive|archives|old records?)\b`)
	appointmentRe  = regexp.MustCompile(`\b(appointments?|meetings?|viewings?|visits?)\b`)
	customerRe     = regexp.MustCompile(`\b(customers?|clients?)\b`)
	navVerbRe      = regexp.MustCompile(`\b(open|go to|goto|take me to|navigate to|show|switch to|back to)\b`)
	withNameRe     = regexp.MustCompile(`\bwith\s+([\p{Lu}][\p{L}'\-]*(?:\s+[\p{Lu}][\p{L}'\-]*)?)`)
	timeRe         = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s?(?:am|pm)|\d{1,2}:\d{2}|noon)\b`)
	queryNoiseRe   = regexp.MustCompile(`\b(find|search|look up|lookup|look for|for|in|the|my|me|show|list|please|archive|archives|old|records?|all)\b`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	punctuationRep = strings.NewReplacer("!", " ", ",", " ", ".", " ", ";", " ", "\"", " ")
)

// navigationNouns 页面名词 -> 导航意图，按顺序匹配
var navigationNouns = []struct {
	re     *regexp.Regexp
	intent string
}{
	{regexp.MustCompile(`\b(clients?|customers?|crm)\b`), assistant.IntentOpenClients},
	{regexp.MustCompile(`\b(calendar|agenda|schedule)\b`), assistant.IntentOpenCalendar},
	{regexp.MustCompile(`\b(listings?|properties|property)\b`), assistant.IntentOpenListings},
	{regexp.MustCompile(`\b(notifications?|alerts?|inbox)\b`), assistant.IntentOpenNotifications},
	{regexp.MustCompile(`\b(settings|preferences|profile)\b`), assistant.IntentOpenSettings},
	{regexp.MustCompile(`\b(dashboard|home|overview)\b`), assistant.IntentOpenDashboard},
}

// normalizeText 小写、去标点、合并空白
func normalizeText(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = punctuationRep.Replace(t)
	t = strings.TrimRight(t, "?")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))
}

// Handle 规则顺序即优先级；未命中返回 unknown 且 Reply 为空
func (r *intentRouterImpl) Handle(ctx context.Context, userID, text string, recent memory.RecentContext) *assistant.IntentResult {
	norm := normalizeText(text)
	if norm == "" && strings.TrimSpace(text) == "?" {
		norm = "?"
	}

	switch {
	case norm == "":
		return &assistant.IntentResult{Intent: assistant.IntentUnknown}
	case greetingRe.MatchString(norm) && len(strings.Fields(norm)) <= 4:
		return &assistant.IntentResult{Intent: assistant.IntentGreeting}
	case thanksRe.MatchString(norm):
		return &assistant.IntentResult{Intent: assistant.IntentThanks, Reply: "You're welcome! Anything else I can help with?"}
	case helpRe.MatchString(norm):
		return &assistant.IntentResult{
			Intent: assistant.IntentHelp,
			Reply:  "I can find customers and appointments, schedule meetings, search the archive and open any page of the dashboard.",
			Actions: []assistant.Action{
				{Type: assistant.ActionShowHelp, Label: "Show examples"},
				{Type: assistant.ActionOpenClients, Label: "Open clients"},
			},
		}
	case summaryRe.MatchString(norm):
		return &assistant.IntentResult{Intent: assistant.IntentNotificationsSummary}
	case scheduleRe.MatchString(norm) && (appointmentRe.MatchString(norm) || customerRe.MatchString(norm) || withNameRe.MatchString(text)):
		return &assistant.IntentResult{Intent: assistant.IntentScheduleAppointment, Data: extractSchedule(text, recent)}
	case archiveRe.MatchString(norm):
		return r.searchArchive(ctx, userID, norm)
	case searchVerbRe.MatchString(norm) && appointmentRe.MatchString(norm):
		return r.searchAppointments(ctx, userID, text, norm)
	case searchVerbRe.MatchString(norm) && customerRe.MatchString(norm):
		return r.searchCustomers(ctx, userID, text, recent)
	}

	if navVerbRe.MatchString(norm) || len(strings.Fields(norm)) <= 2 {
		for _, nav := range navigationNouns {
			if nav.re.MatchString(norm) {
				return &assistant.IntentResult{Intent: nav.intent}
			}
		}
	}
	return &assistant.IntentResult{Intent: assistant.IntentUnknown}
}

func (r *intentRouterImpl) searchCustomers(ctx context.Context, userID, text string, recent memory.RecentContext) *assistant.IntentResult {
	query := extractCustomerName(text)
	if query == "" && strings.Contains(strings.ToLower(text), "that") {
		query = recent.LastCustomer
	}
	data := &SearchData{Query: query}
	res := &assistant.IntentResult{Intent: assistant.IntentSearchCustomer, Data: data}
	if query == "" || r.customers == nil {
		return res
	}
	data.Customers, data.Err = r.customers.SearchCustomers(ctx, userID, query)
	if data.Err != nil {
		zlog.Warn("customer lookup failed", zap.String("user_id", userID), zap.String("query", query), zap.Error(data.Err))
	}
	return res
}

func (r *intentRouterImpl) searchAppointments(ctx context.Context, userID, text, norm string) *assistant.IntentResult {
	query := ""
	if m := withNameRe.FindStringSubmatch(text); m != nil && trimName(m[1]) != "" {
		query = trimName(m[1])
	} else if d := isoDateRe.FindString(norm); d != "" {
		query = d
	} else if d := relativeDateRe.FindString(norm); d != "" {
		query = d
	}
	data := &SearchData{Query: query}
	res := &assistant.IntentResult{Intent: assistant.IntentSearchAppointment, Data: data}
	if r.appointments == nil {
		return res
	}
	data.Appointments, data.Err = r.appointments.SearchAppointments(ctx, userID, query)
	if data.Err != nil {
		zlog.Warn("appointment lookup failed", zap.String("user_id", userID), zap.String("query", query), zap.Error(data.Err))
	}
	return res
}

func (r *intentRouterImpl) searchArchive(ctx context.Context, userID, norm string) *assistant.IntentResult {
	query := strings.TrimSpace(multiSpaceRe.ReplaceAllString(queryNoiseRe.ReplaceAllString(norm, " "), " "))
	data := &SearchData{Query: query}
	res := &assistant.IntentResult{Intent: assistant.IntentSearchArchive, Data: data}
	if query == "" || r.archive == nil {
		return res
	}
	data.Archive, data.Err = r.archive.SearchArchive(ctx, userID, query)
	if data.Err != nil {
		zlog.Warn("archive lookup failed", zap.String("user_id", userID), zap.String("query", query), zap.Error(data.Err))
	}
	return res
}

// extractSchedule 客户优先取当前句，其次取最近上下文
func extractSchedule(text string, recent memory.RecentContext) *ScheduleData {
	d := &ScheduleData{Customer: extractCustomerName(text)}
	if d.Customer == "" {
		if m := withNameRe.FindStringSubmatch(text); m != nil {
			d.Customer = trimName(m[1])
		}
	}
	if d.Customer == "" {
		d.Customer = recent.LastCustomer
	}
	d.Date, d.Time = extractWhen(text)
	return d
}

// extractWhen 抽取日期与时间片段
func extractWhen(text string) (date, clock string) {
	lower := strings.ToLower(text)
	if d := isoDateRe.FindString(lower); d != "" {
		date = d
	} else if d := relativeDateRe.FindString(lower); d != "" {
		date = d
	}
	clock = strings.ReplaceAll(timeRe.FindString(lower), " ", "")
	return date, clock
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// ResolveWhen 把日期/时间片段换算成具体时刻；无法解析时 ok=false
func ResolveWhen(now time.Time, date, clock string) (time.Time, bool) {
	var day time.Time
	switch date {
	case "today", "tonight":
		day = now
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	case "next week":
		day = now.AddDate(0, 0, 7)
	default:
		if wd, ok := weekdays[date]; ok {
			delta := (int(wd) - int(now.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			day = now.AddDate(0, 0, delta)
		} else if t, err := time.ParseInLocation("2006-01-02", date, now.Location()); err == nil {
			day = t
		} else {
			return time.Time{}, false
		}
	}

	hour, minute, ok := parseClock(clock)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), true
}

func parseClock(clock string) (int, int, bool) {
	clock = strings.ToLower(strings.TrimSpace(clock))
	if clock == "noon" {
		return 12, 0, true
	}
	for _, layout := range []string{"3pm", "3:04pm", "15:04"} {
		if t, err := time.Parse(layout, clock); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}
