package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

const (
	greetingReply = "Hello! I'm your DeskPilot assistant. Ask me to find a customer, schedule an appointment or open a page."
	fallbackReply = "Sorry, I didn't quite get that. You can ask me to find a customer, schedule an appointment or open a page."

	pendingConfirmNavigation = "confirm_navigation"
	extraDateKey             = "date"
	extraTimeKey             = "time"
)

// ErrEmptyInput userID 或输入文本为空
var ErrEmptyInput = errors.New("user id and text are required")

// LLMFallback 外部模型兜底，失败返回空字符串
type LLMFallback interface {
	Reply(ctx context.Context, history []memory.Turn, text string) string
}

// KernelService 对话编排：分支状态机 + 兜底链
type KernelService interface {
	HandleUserInput(ctx context.Context, userID, text string, tc *assistant.TurnContext, sink assistant.MessageSink) (*assistant.IntentResult, error)
	Close()
}

// KernelDeps 编排器依赖；LLM、Customers、Calendar 可为 nil
type KernelDeps struct {
	Router        IntentRouter
	Memory        ContextMemoryService
	Awareness     AwarenessService
	Notifications NotificationService
	Customers     collaborator.CustomerDirectory
	Calendar      collaborator.AppointmentCalendar
	LLM           LLMFallback
	Bus           *eventbus.Bus
}

type kernelServiceImpl struct {
	KernelDeps
	now         func() time.Time
	unsubscribe func()
}

// NewKernelService 同时订阅 AssistantNotice，把外部通知记入感知状态
func NewKernelService(deps KernelDeps) KernelService {
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	k := &kernelServiceImpl{KernelDeps: deps, now: time.Now}
	k.unsubscribe = deps.Bus.AssistantNotice.Subscribe(eventbus.Func(k.onNotice))
	return k
}

func (k *kernelServiceImpl) Close() {
	if k.unsubscribe != nil {
		k.unsubscribe()
	}
}

func (k *kernelServiceImpl) onNotice(n eventbus.Notice) {
	if n.UserID == "" {
		return
	}
	k.Awareness.PushEntity(context.Background(), n.UserID, awareness.Entity{
		Type: awareness.EntityNotification,
		ID:   n.NotificationID,
		Name: n.Title,
	})
}

// HandleUserInput 用户消息先入记忆，助手回复最后入记忆；除参数错误外总会给出回复
func (k *kernelServiceImpl) HandleUserInput(ctx context.Context, userID, text string, tc *assistant.TurnContext,
	sink assistant.MessageSink) (*assistant.IntentResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if tc == nil {
		tc = &assistant.TurnContext{}
	}
	k.Memory.PushMessage(ctx, userID, memory.Turn{Role: memory.RoleUser, Text: text, Timestamp: k.now()})

	res := k.dispatch(ctx, userID, text, tc)

	k.Memory.PushMessage(ctx, userID, memory.Turn{Role: memory.RoleAssistant, Text: res.Reply, Timestamp: k.now()})
	if sink != nil {
		sink(assistant.Update{UserID: userID, Intent: res.Intent, Text: res.Reply, Actions: res.Actions})
	}
	return res, nil
}

func (k *kernelServiceImpl) dispatch(ctx context.Context, userID, text string, tc *assistant.TurnContext) *assistant.IntentResult {
	if res := k.resumePending(ctx, userID, text, tc); res != nil {
		return res
	}

	recent := k.Memory.GetRecentContext(ctx, userID)
	routed := k.Router.Handle(ctx, userID, text, recent)

	switch {
	case routed.Intent == assistant.IntentGreeting:
		return &assistant.IntentResult{Intent: assistant.IntentGreeting, Reply: greetingReply}
	case routed.Intent == assistant.IntentSearchCustomer,
		routed.Intent == assistant.IntentSearchAppointment,
		routed.Intent == assistant.IntentSearchArchive:
		k.Awareness.SetLastIntent(ctx, userID, routed.Intent)
		return k.searchBranch(ctx, userID, routed)
	case routed.Intent == assistant.IntentScheduleAppointment:
		k.Awareness.SetLastIntent(ctx, userID, routed.Intent)
		data, _ := routed.Data.(*ScheduleData)
		if data == nil {
			data = &ScheduleData{}
		}
		return k.scheduleBranch(ctx, userID, data, tc)
	case routed.Intent == assistant.IntentNotificationsSummary:
		k.Awareness.SetLastIntent(ctx, userID, routed.Intent)
		return k.summaryBranch(ctx, userID)
	case assistant.IsNavigation(routed.Intent):
		return k.navigationBranch(ctx, userID, routed.Intent, tc)
	}
	return k.fallbackBranch(ctx, userID, text, routed)
}

// resumePending 处理上一轮挂起的流程（导航确认、预约槽位），不适用时返回 nil
func (k *kernelServiceImpl) resumePending(ctx context.Context, userID, text string, tc *assistant.TurnContext) *assistant.IntentResult {
	p := tc.Pending
	if p == nil {
		return nil
	}
	norm := normalizeText(text)

	switch p.Type {
	case pendingConfirmNavigation:
		switch {
		case tc.Confirmed || yesWords[norm]:
			tc.Pending = nil
			return k.navigate(ctx, userID, p.Name)
		case noWords[norm]:
			tc.Pending = nil
			return &assistant.IntentResult{Intent: assistant.IntentConfirmNavigation, Reply: "Okay, staying here."}
		}
		tc.Pending = nil
		return nil

	case assistant.IntentScheduleAppointment:
		// 不是在补槽位，交给正常路由，挂起状态保留
		if looksLikeCommand(norm) {
			return nil
		}
		date, clock := extractWhen(text)
		fresh := date != "" || clock != ""
		if date == "" {
			date, _ = tc.Extra[extraDateKey].(string)
		}
		if clock == "" {
			clock, _ = tc.Extra[extraTimeKey].(string)
		}
		data := &ScheduleData{Customer: p.Name, Date: date, Time: clock}
		if data.Customer == "" {
			data.Customer = extractCustomerName(text)
			if data.Customer == "" && len(strings.Fields(text)) <= 3 && !fresh {
				data.Customer = strings.TrimSpace(text)
			}
		} else if !fresh {
			return nil
		}
		return k.scheduleBranch(ctx, userID, data, tc)
	}
	return nil
}

func looksLikeCommand(norm string) bool {
	return navVerbRe.MatchString(norm) || searchVerbRe.MatchString(norm) || greetingRe.MatchString(norm) ||
		archiveRe.MatchString(norm) || helpRe.MatchString(norm)
}

var (
	yesWords = map[string]bool{"yes": true, "y": true, "ok": true, "okay": true, "sure": true, "proceed": true, "go": true, "go ahead": true}
	noWords  = map[string]bool{"no": true, "n": true, "stay": true, "cancel": true, "nope": true}
)

// searchBranch 0/1/N 三种结果分别对应引导、单条确认、消歧
func (k *kernelServiceImpl) searchBranch(ctx context.Context, userID string, routed *assistant.IntentResult) *assistant.IntentResult {
	data, _ := routed.Data.(*SearchData)
	if data == nil {
		data = &SearchData{}
	}
	res := &assistant.IntentResult{Intent: routed.Intent, Data: data}
	screen, noun := searchScreen(routed.Intent)

	if data.Err != nil {
		res.Reply = fmt.Sprintf("Sorry, I couldn't reach the %s service right now. Please try again in a moment.", noun)
		res.Actions = []assistant.Action{{Type: screen, Label: "Open " + noun + "s"}}
		return res
	}
	if data.Query == "" && data.Count() == 0 {
		res.Reply = fmt.Sprintf("Which %s are you looking for?", noun)
		res.Actions = []assistant.Action{{Type: screen, Label: "Open " + noun + "s"}}
		return res
	}

	cands := candidatesOf(data)
	switch len(cands) {
	case 0:
		res.Reply = fmt.Sprintf("I couldn't find any %s matching %q.", noun, data.Query)
		res.Actions = []assistant.Action{
			{Type: screen, Label: "Open " + noun + "s"},
			{Type: assistant.ActionSearchArchive, Label: "Search the archive", Params: map[string]interface{}{"query": data.Query}},
		}
	case 1:
		c := cands[0]
		k.Awareness.PushEntity(ctx, userID, awareness.Entity{Type: c.kind, ID: c.id, Name: c.name})
		res.Reply = fmt.Sprintf("I found %s.", c.name)
		res.Actions = []assistant.Action{
			c.openAction(),
			{Type: assistant.ActionScheduleAppointment, Label: "Schedule an appointment", Params: c.scheduleParams()},
		}
	default:
		res.Reply = fmt.Sprintf("I found %d matches for %q. Which one do you mean?", len(cands), data.Query)
		for _, c := range cands {
			res.Actions = append(res.Actions, c.selectAction())
		}
	}
	return res
}

func searchScreen(intent string) (string, string) {
	switch intent {
	case assistant.IntentSearchAppointment:
		return assistant.ActionOpenCalendar, "appointment"
	case assistant.IntentSearchArchive:
		return assistant.ActionOpenDashboard, "record"
	}
	return assistant.ActionOpenClients, "customer"
}

type candidate struct {
	kind         string
	id           string
	name         string
	customerID   string
	customerName string
}

func candidatesOf(d *SearchData) []candidate {
	out := make([]candidate, 0, d.Count())
	for _, c := range d.Customers {
		out = append(out, candidate{kind: awareness.EntityCustomer, id: c.ID, name: c.Name, customerID: c.ID, customerName: c.Name})
	}
	for _, a := range d.Appointments {
		name := a.Title
		if a.CustomerName != "" {
			name = fmt.Sprintf("%s with %s", a.Title, a.CustomerName)
		}
		out = append(out, candidate{kind: awareness.EntityAppointment, id: a.ID, name: name, customerID: a.CustomerID, customerName: a.CustomerName})
	}
	for _, h := range d.Archive {
		out = append(out, candidate{kind: h.Kind, id: h.ID, name: h.Title})
	}
	return out
}

func (c candidate) openAction() assistant.Action {
	switch c.kind {
	case awareness.EntityCustomer:
		return assistant.Action{Type: assistant.ActionOpenCustomer, Label: "Open " + c.name, Params: map[string]interface{}{"customerId": c.id}}
	case awareness.EntityAppointment:
		return assistant.Action{Type: assistant.ActionOpenAppointment, Label: "Open " + c.name, Params: map[string]interface{}{"appointmentId": c.id}}
	}
	return assistant.Action{Type: assistant.ActionSearchArchive, Label: "Open " + c.name, Params: map[string]interface{}{"id": c.id, "kind": c.kind}}
}

func (c candidate) selectAction() assistant.Action {
	if c.kind == awareness.EntityCustomer {
		return assistant.Action{Type: assistant.ActionSelectCustomer, Label: c.name,
			Params: map[string]interface{}{"customerId": c.id, "customerName": c.name}}
	}
	a := c.openAction()
	a.Label = c.name
	return a
}

func (c candidate) scheduleParams() map[string]interface{} {
	params := map[string]interface{}{}
	if c.customerID != "" {
		params["customerId"] = c.customerID
	}
	if c.customerName != "" {
		params["customerName"] = c.customerName
	}
	return params
}

// scheduleBranch 槽位填充：客户 -> 时间 -> 调用日程接口；接口失败保留挂起状态
func (k *kernelServiceImpl) scheduleBranch(ctx context.Context, userID string, data *ScheduleData, tc *assistant.TurnContext) *assistant.IntentResult {
	res := &assistant.IntentResult{Intent: assistant.IntentScheduleAppointment, Data: data}
	pending := &assistant.Pending{Type: assistant.IntentScheduleAppointment}
	if tc.Pending != nil && tc.Pending.Type == assistant.IntentScheduleAppointment {
		pending.EntityID = tc.Pending.EntityID
	}

	if data.Customer == "" {
		tc.Pending = pending
		rememberWhen(tc, data)
		res.Reply = "Who is the appointment with?"
		res.Actions = []assistant.Action{
			{Type: assistant.ActionPickCustomer, Label: "Pick a customer"},
			{Type: assistant.ActionOpenClients, Label: "Open clients"},
		}
		return res
	}

	if pending.EntityID == "" {
		matches, err := k.resolveCustomer(ctx, userID, data.Customer)
		if err != nil {
			pending.Name = data.Customer
			tc.Pending = pending
			rememberWhen(tc, data)
			res.Reply = "Sorry, I couldn't look up that customer right now. Please try again."
			res.Actions = []assistant.Action{{Type: assistant.ActionPickCustomer, Label: "Pick a customer"}}
			return res
		}
		switch len(matches) {
		case 0:
			// 名字作废，下一轮的输入重新当作客户
			tc.Pending = pending
			rememberWhen(tc, data)
			res.Reply = fmt.Sprintf("I couldn't find a customer named %q. Who is the appointment with?", data.Customer)
			res.Actions = []assistant.Action{
				{Type: assistant.ActionPickCustomer, Label: "Pick a customer"},
				{Type: assistant.ActionOpenClients, Label: "Open clients"},
			}
			return res
		case 1:
			pending.EntityID = matches[0].ID
			data.Customer = matches[0].Name
		default:
			tc.Pending = pending
			rememberWhen(tc, data)
			res.Reply = fmt.Sprintf("I found %d customers matching %q. Which one is the appointment with?", len(matches), data.Customer)
			for _, c := range matches {
				res.Actions = append(res.Actions, assistant.Action{
					Type:   assistant.ActionSelectCustomer,
					Label:  c.Name,
					Params: map[string]interface{}{"customerId": c.ID, "customerName": c.Name},
				})
			}
			return res
		}
	}
	pending.Name = data.Customer

	startAt, ok := time.Time{}, false
	if data.Complete() {
		startAt, ok = ResolveWhen(k.now(), data.Date, data.Time)
	}
	if !ok {
		tc.Pending = pending
		rememberWhen(tc, data)
		res.Reply = fmt.Sprintf("When should I schedule the appointment with %s? For example \"tomorrow at 3pm\".", data.Customer)
		res.Actions = []assistant.Action{{Type: assistant.ActionOpenCalendar, Label: "Open calendar"}}
		return res
	}

	if k.Calendar == nil {
		tc.Pending = pending
		rememberWhen(tc, data)
		res.Reply = "Sorry, the calendar is not available right now. Please try again later."
		res.Actions = []assistant.Action{{Type: assistant.ActionOpenCalendar, Label: "Open calendar"}}
		return res
	}
	appt, err := k.Calendar.CreateAppointment(ctx, userID, collaborator.Appointment{
		UserID:       userID,
		CustomerID:   pending.EntityID,
		CustomerName: data.Customer,
		Title:        "Meeting with " + data.Customer,
		StartAt:      startAt,
	})
	if err != nil {
		zlog.Warn("create appointment failed", zap.String("user_id", userID), zap.Error(err))
		tc.Pending = pending
		rememberWhen(tc, data)
		res.Reply = "Sorry, I couldn't create the appointment right now. Send the time again and I will retry."
		res.Actions = []assistant.Action{{Type: assistant.ActionOpenCalendar, Label: "Open calendar"}}
		return res
	}

	tc.Pending = nil
	delete(tc.Extra, extraDateKey)
	delete(tc.Extra, extraTimeKey)
	k.Awareness.PushEntity(ctx, userID, awareness.Entity{Type: awareness.EntityAppointment, ID: appt.ID, Name: appt.Title})
	when := appt.StartAt.Format("Mon Jan 2 15:04")
	if _, err := k.Notifications.CreateAINotification(ctx, AINotificationInput{
		UserID:   userID,
		Source:   "assistant",
		Category: notification.CategoryAppointment,
		Type:     "appointment_scheduled",
		TargetID: appt.ID,
		Payload: map[string]interface{}{
			"title":      "Appointment scheduled",
			"message":    fmt.Sprintf("%s on %s", appt.Title, when),
			"targetType": "appointment",
		},
		Severity: notification.SeverityInfo,
	}); err != nil {
		zlog.Warn("appointment notification failed", zap.String("user_id", userID), zap.Error(err))
	}
	res.Data = appt
	res.Reply = fmt.Sprintf("Done! I scheduled %s on %s.", appt.Title, when)
	res.Actions = []assistant.Action{
		{Type: assistant.ActionOpenAppointment, Label: "Open appointment", Params: map[string]interface{}{"appointmentId": appt.ID}},
		{Type: assistant.ActionOpenCalendar, Label: "Open calendar"},
	}
	return res
}

// rememberWhen 把已给出的日期/时间暂存到上下文，下一轮补齐其余槽位
func rememberWhen(tc *assistant.TurnContext, data *ScheduleData) {
	if data.Date == "" && data.Time == "" {
		return
	}
	if tc.Extra == nil {
		tc.Extra = map[string]interface{}{}
	}
	if data.Date != "" {
		tc.Extra[extraDateKey] = data.Date
	}
	if data.Time != "" {
		tc.Extra[extraTimeKey] = data.Time
	}
}

// resolveCustomer 先查感知状态，再查客户目录；没有目录时视为查无此人
func (k *kernelServiceImpl) resolveCustomer(ctx context.Context, userID, name string) ([]collaborator.Customer, error) {
	if e, ok := k.Awareness.LastEntityOfType(ctx, userID, awareness.EntityCustomer); ok && strings.EqualFold(e.Name, name) {
		return []collaborator.Customer{{ID: e.ID, Name: e.Name}}, nil
	}
	if k.Customers == nil {
		return nil, nil
	}
	found, err := k.Customers.SearchCustomers(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	// 有同名精确匹配时不再追问
	for _, c := range found {
		if strings.EqualFold(c.Name, name) {
			return []collaborator.Customer{c}, nil
		}
	}
	return found, nil
}

func (k *kernelServiceImpl) summaryBranch(ctx context.Context, userID string) *assistant.IntentResult {
	sum := k.Notifications.Analyze(ctx, userID)
	reply := "You have no unread notifications."
	switch {
	case sum.Unread == 1:
		reply = "You have 1 unread notification."
	case sum.Unread > 1:
		reply = fmt.Sprintf("You have %d unread notifications.", sum.Unread)
	}
	if len(sum.Recent) > 0 {
		reply += fmt.Sprintf(" The latest is %q.", sum.Recent[0].Title)
	}
	return &assistant.IntentResult{
		Intent:  assistant.IntentNotificationsSummary,
		Data:    sum,
		Reply:   reply,
		Actions: []assistant.Action{{Type: assistant.ActionOpenNotifications, Label: "Open notifications"}},
	}
}

// navigationBranch 与当前上下文不一致时先确认；没有上下文或已确认时直接导航
func (k *kernelServiceImpl) navigationBranch(ctx context.Context, userID, intent string, tc *assistant.TurnContext) *assistant.IntentResult {
	last := k.Awareness.GetState(ctx, userID).LastIntentName()
	if tc.Confirmed || last == "" || last == intent {
		return k.navigate(ctx, userID, intent)
	}
	page := assistant.PageOf(intent)
	tc.Pending = &assistant.Pending{Type: pendingConfirmNavigation, Name: intent}
	return &assistant.IntentResult{
		Intent: assistant.IntentConfirmNavigation,
		Data:   map[string]interface{}{"from": last, "to": intent},
		Reply:  fmt.Sprintf("You're in the middle of %s. Leave it and open %s?", strings.ReplaceAll(last, "_", " "), page),
		Actions: []assistant.Action{
			{Type: assistant.ActionProceedNavigation, Label: "Open " + page, Params: map[string]interface{}{"intent": intent, "page": page}},
			{Type: assistant.ActionStay, Label: "Stay here", Params: map[string]interface{}{"intent": last}},
		},
	}
}

// navigate 发出导航事件并更新 lastOpened/lastIntent；日程页走通知管道的打开助手
func (k *kernelServiceImpl) navigate(ctx context.Context, userID, intent string) *assistant.IntentResult {
	page := assistant.PageOf(intent)
	if intent == assistant.IntentOpenCalendar && k.Notifications != nil {
		k.Notifications.OpenCalendar(ctx, userID, "")
	} else {
		k.Bus.Navigation.Publish(eventbus.Navigation{UserID: userID, Page: page})
	}
	k.Awareness.SetLastOpened(ctx, userID, page, "")
	k.Awareness.SetLastIntent(ctx, userID, intent)
	return &assistant.IntentResult{
		Intent:  intent,
		Reply:   fmt.Sprintf("Opening %s.", page),
		Actions: []assistant.Action{{Type: intent, Label: "Open " + page}},
	}
}

// fallbackBranch 兜底链：路由自带回复 -> 外部模型 -> 静态致歉（至少带一个动作）
func (k *kernelServiceImpl) fallbackBranch(ctx context.Context, userID, text string, routed *assistant.IntentResult) *assistant.IntentResult {
	if !routed.Unclassified() {
		return routed
	}
	if k.LLM != nil {
		history := k.Memory.GetConversationHistory(ctx, userID)
		// 当前用户消息已入记忆，不重复放进历史
		if n := len(history); n > 0 && history[n-1].Role == memory.RoleUser && history[n-1].Text == text {
			history = history[:n-1]
		}
		if reply := k.LLM.Reply(ctx, history, text); reply != "" {
			return &assistant.IntentResult{
				Intent:  assistant.IntentUnknown,
				Reply:   reply,
				Actions: []assistant.Action{{Type: assistant.ActionShowHelp, Label: "What else can you do?"}},
			}
		}
	}
	return &assistant.IntentResult{
		Intent: assistant.IntentUnknown,
		Reply:  fallbackReply,
		Actions: []assistant.Action{
			{Type: assistant.ActionShowHelp, Label: "Show examples"},
			{Type: assistant.ActionOpenDashboard, Label: "Open dashboard"},
		},
	}
}
