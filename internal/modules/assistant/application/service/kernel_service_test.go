package service

import (
	"context"
	"errors"
	"testing"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	reply   string
	history []memory.Turn
	text    string
	calls   int
}

func (f *fakeLLM) Reply(_ context.Context, history []memory.Turn, text string) string {
	f.calls++
	f.history = history
	f.text = text
	return f.reply
}

type kernelFixture struct {
	kernel        KernelService
	memory        ContextMemoryService
	awareness     AwarenessService
	notifications NotificationService
	directory     *fakeDirectory
	calendar      *fakeCalendar
	llm           *fakeLLM
	bus           *eventbus.Bus
	navigations   []eventbus.Navigation
	updates       []assistant.Update
}

func newKernelFixture(t *testing.T, customers ...collaborator.Customer) *kernelFixture {
	t.Helper()
	f := &kernelFixture{
		memory:    newTestMemory(t),
		awareness: newTestAwareness(t),
		directory: &fakeDirectory{customers: customers},
		calendar:  &fakeCalendar{},
		llm:       &fakeLLM{},
		bus:       eventbus.New(),
	}
	f.notifications = newTestNotifications(t, f.bus, nil, NotificationOptions{})
	f.bus.Navigation.Subscribe(eventbus.Func(func(n eventbus.Navigation) { f.navigations = append(f.navigations, n) }))
	f.kernel = NewKernelService(KernelDeps{
		Router:        NewIntentRouter(f.directory, f.calendar, &fakeArchive{}),
		Memory:        f.memory,
		Awareness:     f.awareness,
		Notifications: f.notifications,
		Customers:     f.directory,
		Calendar:      f.calendar,
		LLM:           f.llm,
		Bus:           f.bus,
	})
	t.Cleanup(f.kernel.Close)
	return f
}

func (f *kernelFixture) say(t *testing.T, text string, tc *assistant.TurnContext) *assistant.IntentResult {
	t.Helper()
	res, err := f.kernel.HandleUserInput(context.Background(), "u1", text, tc, func(u assistant.Update) {
		f.updates = append(f.updates, u)
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func actionTypes(actions []assistant.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Type)
	}
	return out
}

func TestKernelRejectsEmptyInput(t *testing.T) {
	f := newKernelFixture(t)
	_, err := f.kernel.HandleUserInput(context.Background(), "", "hello", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = f.kernel.HandleUserInput(context.Background(), "u1", "  ", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.memory.GetConversationHistory(context.Background(), "u1"))
}

func TestKernelGreetingRecordsBothTurns(t *testing.T) {
	f := newKernelFixture(t)
	res := f.say(t, "hello", nil)

	assert.Equal(t, assistant.IntentGreeting, res.Intent)
	assert.Equal(t, greetingReply, res.Reply)

	history := f.memory.GetConversationHistory(context.Background(), "u1")
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, memory.RoleAssistant, history[1].Role)
	assert.Equal(t, greetingReply, history[1].Text)

	require.Len(t, f.updates, 1)
	assert.Equal(t, greetingReply, f.updates[0].Text)
}

func TestKernelFindCustomerNoResults(t *testing.T) {
	f := newKernelFixture(t)
	res := f.say(t, "find customer named Ahmad", nil)

	assert.Equal(t, assistant.IntentSearchCustomer, res.Intent)
	assert.Equal(t, []string{assistant.ActionOpenClients, assistant.ActionSearchArchive}, actionTypes(res.Actions))
	assert.Equal(t, "Ahmad", res.Actions[1].Params["query"])
	assert.Len(t, f.memory.GetConversationHistory(context.Background(), "u1"), 2)
	assert.Equal(t, assistant.IntentSearchCustomer, f.awareness.GetState(context.Background(), "u1").LastIntentName())
}

func TestKernelFindCustomerSingleResult(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c1", Name: "Ahmad Ali"}, collaborator.Customer{ID: "c2", Name: "Sara"})
	res := f.say(t, "find customer named Ahmad", nil)

	assert.Equal(t, []string{assistant.ActionOpenCustomer, assistant.ActionScheduleAppointment}, actionTypes(res.Actions))
	assert.Equal(t, "c1", res.Actions[0].Params["customerId"])
	assert.Equal(t, "c1", res.Actions[1].Params["customerId"])

	e, ok := f.awareness.LastEntityOfType(context.Background(), "u1", awareness.EntityCustomer)
	require.True(t, ok)
	assert.Equal(t, "c1", e.ID)
}

func TestKernelFindCustomerDisambiguation(t *testing.T) {
	f := newKernelFixture(t,
		collaborator.Customer{ID: "c1", Name: "Ahmad Ali"},
		collaborator.Customer{ID: "c2", Name: "Ahmad Noor"},
		collaborator.Customer{ID: "c3", Name: "Ahmad Saleh"},
	)
	res := f.say(t, "find customer named Ahmad", nil)

	require.Len(t, res.Actions, 3)
	for i, a := range res.Actions {
		assert.Equal(t, assistant.ActionSelectCustomer, a.Type)
		assert.Equal(t, f.directory.customers[i].ID, a.Params["customerId"])
	}
	_, ok := f.awareness.LastEntityOfType(context.Background(), "u1", awareness.EntityCustomer)
	assert.False(t, ok)
}

func TestKernelLookupFailure(t *testing.T) {
	f := newKernelFixture(t)
	f.directory.err = errLookup
	res := f.say(t, "find customer named Ahmad", nil)

	assert.Contains(t, res.Reply, "Sorry")
	assert.Equal(t, []string{assistant.ActionOpenClients}, actionTypes(res.Actions))
}

func TestKernelNavigationWithoutContext(t *testing.T) {
	f := newKernelFixture(t)
	res := f.say(t, "open calendar", nil)

	assert.Equal(t, assistant.IntentOpenCalendar, res.Intent)
	require.Len(t, f.navigations, 1)
	assert.Equal(t, "calendar", f.navigations[0].Page)

	st := f.awareness.GetState(context.Background(), "u1")
	assert.Equal(t, assistant.IntentOpenCalendar, st.LastIntentName())
	require.NotNil(t, st.LastOpened)
	assert.Equal(t, "calendar", st.LastOpened.Page)

	f.say(t, "open calendar", nil)
	assert.Len(t, f.navigations, 2)
}

func TestKernelNavigationArbitration(t *testing.T) {
	f := newKernelFixture(t)
	f.say(t, "find customer named Ahmad", nil)

	tc := &assistant.TurnContext{}
	res := f.say(t, "open settings", tc)
	assert.Equal(t, assistant.IntentConfirmNavigation, res.Intent)
	assert.Equal(t, []string{assistant.ActionProceedNavigation, assistant.ActionStay}, actionTypes(res.Actions))
	require.NotNil(t, tc.Pending)
	assert.Empty(t, f.navigations)

	res = f.say(t, "yes", tc)
	assert.Equal(t, assistant.IntentOpenSettings, res.Intent)
	assert.Nil(t, tc.Pending)
	require.Len(t, f.navigations, 1)
	assert.Equal(t, "settings", f.navigations[0].Page)
}

func TestKernelNavigationDeclined(t *testing.T) {
	f := newKernelFixture(t)
	f.say(t, "find customer named Ahmad", nil)

	tc := &assistant.TurnContext{}
	f.say(t, "open listings", tc)
	res := f.say(t, "no", tc)

	assert.Equal(t, assistant.IntentConfirmNavigation, res.Intent)
	assert.Nil(t, tc.Pending)
	assert.Empty(t, f.navigations)
	assert.Equal(t, assistant.IntentSearchCustomer, f.awareness.GetState(context.Background(), "u1").LastIntentName())
}

func TestKernelNavigationConfirmedSkipsPrompt(t *testing.T) {
	f := newKernelFixture(t)
	f.say(t, "find customer named Ahmad", nil)

	res := f.say(t, "open listings", &assistant.TurnContext{Confirmed: true})
	assert.Equal(t, assistant.IntentOpenListings, res.Intent)
	assert.Len(t, f.navigations, 1)
}

func TestKernelFallbackWithoutLLMReply(t *testing.T) {
	f := newKernelFixture(t)
	res := f.say(t, "tell me a joke about penguins", nil)

	assert.Equal(t, assistant.IntentUnknown, res.Intent)
	assert.Equal(t, fallbackReply, res.Reply)
	assert.NotEmpty(t, res.Actions)
	assert.Equal(t, 1, f.llm.calls)
}

func TestKernelFallbackUsesLLM(t *testing.T) {
	f := newKernelFixture(t)
	f.say(t, "hello", nil)
	f.llm.reply = "Penguins can't fly, but they can swim fast."

	res := f.say(t, "tell me a joke about penguins", nil)
	assert.Equal(t, f.llm.reply, res.Reply)
	assert.NotEmpty(t, res.Actions)
	assert.Equal(t, "tell me a joke about penguins", f.llm.text)
	require.Len(t, f.llm.history, 2)
	assert.Equal(t, "hello", f.llm.history[0].Text)
}

func TestKernelRouterReplyBeatsLLM(t *testing.T) {
	f := newKernelFixture(t)
	res := f.say(t, "thanks", nil)
	assert.Equal(t, assistant.IntentThanks, res.Intent)
	assert.Equal(t, 0, f.llm.calls)
}

func TestKernelScheduleInOneTurn(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c1", Name: "Ahmad Ali"})
	tc := &assistant.TurnContext{}
	res := f.say(t, "schedule a meeting with Ahmad tomorrow at 3pm", tc)

	assert.Equal(t, assistant.IntentScheduleAppointment, res.Intent)
	assert.Equal(t, []string{assistant.ActionOpenAppointment, assistant.ActionOpenCalendar}, actionTypes(res.Actions))
	assert.Nil(t, tc.Pending)

	require.Len(t, f.calendar.created, 1)
	appt := f.calendar.created[0]
	assert.Equal(t, "c1", appt.CustomerID)
	assert.Equal(t, 15, appt.StartAt.Hour())

	list := f.notifications.List(context.Background(), notification.Filter{UserID: "u1"})
	require.Len(t, list, 1)
	assert.Equal(t, "appointment_scheduled", list[0].Type)

	st := f.awareness.GetState(context.Background(), "u1")
	require.NotEmpty(t, st.RecentEntities)
	assert.Equal(t, awareness.EntityNotification, st.RecentEntities[0].Type)
	assert.Equal(t, awareness.EntityAppointment, st.RecentEntities[1].Type)
}

func TestKernelScheduleSlotFilling(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c9", Name: "Omar"})
	tc := &assistant.TurnContext{}

	res := f.say(t, "book an appointment with client Omar", tc)
	assert.Contains(t, res.Reply, "When should I schedule")
	require.NotNil(t, tc.Pending)
	assert.Equal(t, "Omar", tc.Pending.Name)
	assert.Empty(t, f.calendar.created)

	res = f.say(t, "tomorrow at 10am", tc)
	assert.Equal(t, []string{assistant.ActionOpenAppointment, assistant.ActionOpenCalendar}, actionTypes(res.Actions))
	require.Len(t, f.calendar.created, 1)
	assert.Equal(t, "c9", f.calendar.created[0].CustomerID)
	assert.Nil(t, tc.Pending)
}

func TestKernelScheduleAsksForCustomer(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c9", Name: "Omar"})
	tc := &assistant.TurnContext{}

	res := f.say(t, "schedule an appointment tomorrow at 4pm", tc)
	assert.Equal(t, []string{assistant.ActionPickCustomer, assistant.ActionOpenClients}, actionTypes(res.Actions))
	require.NotNil(t, tc.Pending)
	assert.Empty(t, tc.Pending.Name)

	res = f.say(t, "Omar", tc)
	assert.Equal(t, []string{assistant.ActionOpenAppointment, assistant.ActionOpenCalendar}, actionTypes(res.Actions))
	require.Len(t, f.calendar.created, 1)
	assert.Equal(t, "c9", f.calendar.created[0].CustomerID)
	assert.Equal(t, 16, f.calendar.created[0].StartAt.Hour())
	assert.Nil(t, tc.Pending)
}

func TestKernelPendingScheduleYieldsToCommands(t *testing.T) {
	f := newKernelFixture(t)
	tc := &assistant.TurnContext{}
	f.say(t, "book an appointment with client Omar", tc)
	require.NotNil(t, tc.Pending)

	res := f.say(t, "open calendar", tc)
	assert.Equal(t, assistant.IntentConfirmNavigation, res.Intent)
}

func TestKernelScheduleCalendarFailureKeepsPending(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c1", Name: "Ahmad"})
	f.calendar.createErr = errors.New("calendar down")
	tc := &assistant.TurnContext{}

	res := f.say(t, "schedule a meeting with Ahmad tomorrow at 3pm", tc)
	assert.Contains(t, res.Reply, "couldn't create the appointment")
	require.NotNil(t, tc.Pending)
	assert.Equal(t, "c1", tc.Pending.EntityID)
	assert.Equal(t, "tomorrow", tc.Extra[extraDateKey])
	assert.Zero(t, f.notifications.CountUnread(context.Background(), "u1"))

	f.calendar.createErr = nil
	res = f.say(t, "3pm", tc)
	assert.Equal(t, []string{assistant.ActionOpenAppointment, assistant.ActionOpenCalendar}, actionTypes(res.Actions))
	assert.Len(t, f.calendar.created, 1)
}

func TestKernelNotificationsSummary(t *testing.T) {
	f := newKernelFixture(t)
	ctx := context.Background()
	_, _ = f.notifications.NotifyOfferReceived(ctx, "u1", "o1", "Omar", "1.2M")
	_, _ = f.notifications.NotifyRequestReceived(ctx, "u1", "r1", "Laila")

	res := f.say(t, "how many unread notifications do I have", nil)
	assert.Equal(t, assistant.IntentNotificationsSummary, res.Intent)
	assert.Contains(t, res.Reply, "2 unread notifications")
	assert.Contains(t, res.Reply, "New request")
}

func TestKernelRecordsAssistantNotices(t *testing.T) {
	f := newKernelFixture(t)
	f.bus.AssistantNotice.Publish(eventbus.Notice{UserID: "u1", NotificationID: "n1", Title: "Offer"})

	e, ok := f.awareness.LastEntityOfType(context.Background(), "u1", awareness.EntityNotification)
	require.True(t, ok)
	assert.Equal(t, "n1", e.ID)

	f.kernel.Close()
	f.bus.AssistantNotice.Publish(eventbus.Notice{UserID: "u1", NotificationID: "n2"})
	e, _ = f.awareness.LastEntityOfType(context.Background(), "u1", awareness.EntityNotification)
	assert.Equal(t, "n1", e.ID)
}

func TestKernelScheduleIgnoresDateWordsAsCustomer(t *testing.T) {
	f := newKernelFixture(t, collaborator.Customer{ID: "c9", Name: "Omar"})
	tc := &assistant.TurnContext{}

	res := f.say(t, "schedule an appointment with the client tomorrow at 3pm", tc)
	assert.Equal(t, "Who is the appointment with?", res.Reply)
	assert.Empty(t, f.calendar.created)
	require.NotNil(t, tc.Pending)
	assert.Empty(t, tc.Pending.Name)
	assert.Equal(t, "tomorrow", tc.Extra[extraDateKey])

	f.say(t, "Omar", tc)
	require.Len(t, f.calendar.created, 1)
	assert.Equal(t, "c9", f.calendar.created[0].CustomerID)
	assert.Equal(t, 15, f.calendar.created[0].StartAt.Hour())
}

func TestKernelScheduleUnknownCustomerDoesNotBook(t *testing.T) {
	f := newKernelFixture(t)
	tc := &assistant.TurnContext{}

	res := f.say(t, "schedule appointment with customer Nobody tomorrow at 3pm", tc)
	assert.Contains(t, res.Reply, `couldn't find a customer named "Nobody"`)
	assert.Equal(t, []string{assistant.ActionPickCustomer, assistant.ActionOpenClients}, actionTypes(res.Actions))
	assert.Empty(t, f.calendar.created)
	require.NotNil(t, tc.Pending)
	assert.Empty(t, tc.Pending.EntityID)
	assert.Zero(t, f.notifications.CountUnread(context.Background(), "u1"))
}

func TestKernelScheduleAmbiguousCustomerOffersCandidates(t *testing.T) {
	f := newKernelFixture(t,
		collaborator.Customer{ID: "c1", Name: "Ahmad Ali"},
		collaborator.Customer{ID: "c2", Name: "Ahmad Noor"},
	)
	tc := &assistant.TurnContext{}

	res := f.say(t, "schedule appointment with customer Ahmad tomorrow at 3pm", tc)
	assert.Empty(t, f.calendar.created)
	require.Len(t, res.Actions, 2)
	for i, a := range res.Actions {
		assert.Equal(t, assistant.ActionSelectCustomer, a.Type)
		assert.Equal(t, f.directory.customers[i].ID, a.Params["customerId"])
		assert.Equal(t, f.directory.customers[i].Name, a.Params["customerName"])
	}
	require.NotNil(t, tc.Pending)
	assert.Empty(t, tc.Pending.EntityID)

	// 选中候选后带着日期时间完成预约
	res = f.say(t, "Ahmad Noor", tc)
	assert.Equal(t, []string{assistant.ActionOpenAppointment, assistant.ActionOpenCalendar}, actionTypes(res.Actions))
	require.Len(t, f.calendar.created, 1)
	assert.Equal(t, "c2", f.calendar.created[0].CustomerID)
	assert.Equal(t, "Meeting with Ahmad Noor", f.calendar.created[0].Title)
	assert.Nil(t, tc.Pending)
}

func TestKernelScheduleWithoutDirectoryDoesNotBook(t *testing.T) {
	f := newKernelFixture(t)
	f.kernel = NewKernelService(KernelDeps{
		Router:        NewIntentRouter(nil, nil, nil),
		Memory:        f.memory,
		Awareness:     f.awareness,
		Notifications: f.notifications,
		Calendar:      f.calendar,
		Bus:           f.bus,
	})
	t.Cleanup(f.kernel.Close)

	res := f.say(t, "schedule a meeting with Ahmad tomorrow at 3pm", &assistant.TurnContext{})
	assert.Contains(t, res.Reply, "couldn't find a customer")
	assert.Empty(t, f.calendar.created)
}
