package service

import (
	"context"
	"testing"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterIntents(t *testing.T) {
	router := NewIntentRouter(&fakeDirectory{}, &fakeCalendar{}, &fakeArchive{})
	tests := []struct {
		text string
		want string
	}{
		{"hello", assistant.IntentGreeting},
		{"Good morning!", assistant.IntentGreeting},
		{"thanks a lot", assistant.IntentThanks},
		{"help", assistant.IntentHelp},
		{"what can you do?", assistant.IntentHelp},
		{"how many unread notifications do I have", assistant.IntentNotificationsSummary},
		{"schedule a meeting with Ahmad tomorrow at 3pm", assistant.IntentScheduleAppointment},
		{"book an appointment with client Omar", assistant.IntentScheduleAppointment},
		{"search the archive for lease contract", assistant.IntentSearchArchive},
		{"find my meetings with Sara", assistant.IntentSearchAppointment},
		{"find customer named Ahmad", assistant.IntentSearchCustomer},
		{"open calendar", assistant.IntentOpenCalendar},
		{"show me clients", assistant.IntentOpenClients},
		{"clients", assistant.IntentOpenClients},
		{"go to settings", assistant.IntentOpenSettings},
		{"take me to the dashboard", assistant.IntentOpenDashboard},
		{"open listings", assistant.IntentOpenListings},
		{"notifications", assistant.IntentOpenNotifications},
		{"what is the weather like in Dubai", assistant.IntentUnknown},
		{"   ", assistant.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := router.Handle(context.Background(), "u1", tt.text, memory.RecentContext{})
			require.NotNil(t, res)
			assert.Equal(t, tt.want, res.Intent)
		})
	}
}

func TestRouterUnknownHasNoReply(t *testing.T) {
	res := NewIntentRouter(nil, nil, nil).Handle(context.Background(), "u1", "tell me a joke about penguins", memory.RecentContext{})
	assert.True(t, res.Unclassified())
}

func TestRouterSearchCustomerCallsDirectory(t *testing.T) {
	dir := &fakeDirectory{customers: []collaborator.Customer{{ID: "c1", Name: "Ahmad Ali"}, {ID: "c2", Name: "Sara"}}}
	res := NewIntentRouter(dir, nil, nil).Handle(context.Background(), "u1", "find customer named Ahmad", memory.RecentContext{})

	data, ok := res.Data.(*SearchData)
	require.True(t, ok)
	assert.Equal(t, "Ahmad", data.Query)
	require.Len(t, data.Customers, 1)
	assert.Equal(t, "c1", data.Customers[0].ID)
	assert.Equal(t, []string{"Ahmad"}, dir.queries)
}

func TestRouterSearchUsesRecentCustomerForThat(t *testing.T) {
	dir := &fakeDirectory{customers: []collaborator.Customer{{ID: "c1", Name: "Omar"}}}
	res := NewIntentRouter(dir, nil, nil).Handle(context.Background(), "u1", "find that client", memory.RecentContext{LastCustomer: "Omar"})
	data := res.Data.(*SearchData)
	assert.Equal(t, "Omar", data.Query)
	assert.Len(t, data.Customers, 1)
}

func TestRouterLookupFailure(t *testing.T) {
	dir := &fakeDirectory{err: errLookup}
	res := NewIntentRouter(dir, nil, nil).Handle(context.Background(), "u1", "find customer named Ahmad", memory.RecentContext{})
	data := res.Data.(*SearchData)
	assert.ErrorIs(t, data.Err, errLookup)
	assert.Equal(t, assistant.IntentSearchCustomer, res.Intent)
}

func TestRouterArchiveQuery(t *testing.T) {
	res := NewIntentRouter(nil, nil, &fakeArchive{hits: []collaborator.ArchiveHit{{ID: "h1", Title: "Lease"}}}).
		Handle(context.Background(), "u1", "Search the archive for lease contract", memory.RecentContext{})
	data := res.Data.(*SearchData)
	assert.Equal(t, "lease contract", data.Query)
	assert.Len(t, data.Archive, 1)
}

func TestRouterScheduleSlots(t *testing.T) {
	router := NewIntentRouter(nil, nil, nil)
	tests := []struct {
		text   string
		recent memory.RecentContext
		want   ScheduleData
	}{
		{"schedule a meeting with Ahmad tomorrow at 3pm", memory.RecentContext{}, ScheduleData{Customer: "Ahmad", Date: "tomorrow", Time: "3pm"}},
		{"book an appointment with client Sara Khan on 2026-11-02 at 10:30", memory.RecentContext{}, ScheduleData{Customer: "Sara Khan", Date: "2026-11-02", Time: "10:30"}},
		{"schedule an appointment friday at 9 am", memory.RecentContext{LastCustomer: "Omar"}, ScheduleData{Customer: "Omar", Date: "friday", Time: "9am"}},
		{"schedule an appointment with the client tomorrow at 3pm", memory.RecentContext{}, ScheduleData{Date: "tomorrow", Time: "3pm"}},
		{"book a viewing with Ahmad Tomorrow at 3pm", memory.RecentContext{}, ScheduleData{Customer: "Ahmad", Date: "tomorrow", Time: "3pm"}},
		{"schedule a meeting with customer Omar Tomorrow at noon", memory.RecentContext{}, ScheduleData{Customer: "Omar", Date: "tomorrow", Time: "noon"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := router.Handle(context.Background(), "u1", tt.text, tt.recent)
			require.Equal(t, assistant.IntentScheduleAppointment, res.Intent)
			assert.Equal(t, &tt.want, res.Data)
		})
	}
}

func TestResolveWhen(t *testing.T) {
	// 2026-10-15 是周四
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		date, clock string
		want        time.Time
		ok          bool
	}{
		{"today", "3pm", time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC), true},
		{"tomorrow", "10:30am", time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC), true},
		{"friday", "noon", time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC), true},
		{"thursday", "9:15", time.Date(2026, 10, 22, 9, 15, 0, 0, time.UTC), true},
		{"2026-12-01", "17:00", time.Date(2026, 12, 1, 17, 0, 0, 0, time.UTC), true},
		{"next week", "9am", time.Date(2026, 10, 22, 9, 0, 0, 0, time.UTC), true},
		{"someday", "3pm", time.Time{}, false},
		{"today", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.date+" "+tt.clock, func(t *testing.T) {
			got, ok := ResolveWhen(now, tt.date, tt.clock)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
