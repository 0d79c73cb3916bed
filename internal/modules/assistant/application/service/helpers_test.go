package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"
	"DeskPilot/internal/modules/assistant/infrastructure/persistence"

	"github.com/stretchr/testify/require"
)

func newFlatStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func newTestMemory(t *testing.T) ContextMemoryService {
	return NewContextMemoryService(persistence.NewKVStateRepository[memory.ShortTermMemory](newFlatStore(t), "memory"))
}

func newTestAwareness(t *testing.T) AwarenessService {
	return NewAwarenessService(persistence.NewKVStateRepository[awareness.State](newFlatStore(t), "awareness"))
}

func newTestNotifications(t *testing.T, bus *eventbus.Bus, remote collaborator.RemoteNotifier, opts NotificationOptions) NotificationService {
	t.Helper()
	store := newFlatStore(t)
	if opts.FlushDelay == 0 {
		opts.FlushDelay = 20 * time.Millisecond
	}
	svc := NewNotificationService(
		persistence.NewKVNotificationRepository(store),
		persistence.NewKVStateRepository[notification.Settings](store, "notification-settings"),
		remote, bus, opts,
	)
	t.Cleanup(func() { _ = svc.Flush(context.Background()) })
	return svc
}

var errLookup = errors.New("directory unavailable")

type fakeDirectory struct {
	customers []collaborator.Customer
	err       error
	queries   []string
}

func (d *fakeDirectory) SearchCustomers(_ context.Context, _, query string) ([]collaborator.Customer, error) {
	d.queries = append(d.queries, query)
	if d.err != nil {
		return nil, d.err
	}
	var out []collaborator.Customer
	for _, c := range d.customers {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetCustomer(_ context.Context, _, id string) (*collaborator.Customer, error) {
	for _, c := range d.customers {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, collaborator.ErrNotFound
}

type fakeCalendar struct {
	mu        sync.Mutex
	created   []collaborator.Appointment
	upcoming  []collaborator.Appointment
	found     []collaborator.Appointment
	createErr error
}

func (c *fakeCalendar) CreateAppointment(_ context.Context, userID string, appt collaborator.Appointment) (*collaborator.Appointment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	appt.UserID = userID
	if appt.ID == "" {
		appt.ID = "appt-1"
	}
	c.created = append(c.created, appt)
	return &appt, nil
}

func (c *fakeCalendar) SearchAppointments(context.Context, string, string) ([]collaborator.Appointment, error) {
	return c.found, nil
}

func (c *fakeCalendar) Upcoming(context.Context, time.Duration) ([]collaborator.Appointment, error) {
	return c.upcoming, nil
}

type fakeArchive struct {
	hits []collaborator.ArchiveHit
}

func (a *fakeArchive) SearchArchive(context.Context, string, string) ([]collaborator.ArchiveHit, error) {
	return a.hits, nil
}

type fakeRemote struct {
	id    string
	err   error
	calls []collaborator.RemoteNotification
}

func (r *fakeRemote) CreateRemote(_ context.Context, req collaborator.RemoteNotification) (string, error) {
	r.calls = append(r.calls, req)
	return r.id, r.err
}
