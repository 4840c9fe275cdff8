package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trucktrack/alert-pipeline/internal/rules"
	"github.com/trucktrack/alert-pipeline/internal/template"
)

type mockPrefs struct {
	byUser map[string]Preferences
	err    error
}

func (m *mockPrefs) Preferences(_ context.Context, userID string) (Preferences, error) {
	if m.err != nil {
		return Preferences{}, m.err
	}
	if p, ok := m.byUser[userID]; ok {
		return p, nil
	}
	return Preferences{UserID: userID}, nil
}

type mockRegistry struct {
	mu          sync.Mutex
	tokens      map[string][]string
	emails      map[string]string
	deactivated []string
	bounced     []string
}

func (m *mockRegistry) PushTokens(_ context.Context, userID string) ([]string, error) {
	return m.tokens[userID], nil
}

func (m *mockRegistry) EmailAddress(_ context.Context, userID string) (string, error) {
	addr, ok := m.emails[userID]
	if !ok {
		return "", errors.New("no email on file")
	}
	return addr, nil
}

func (m *mockRegistry) DeactivateToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, token)
	return nil
}

func (m *mockRegistry) ReportBounce(_ context.Context, userID, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounced = append(m.bounced, userID)
	return nil
}

type mockAttempts struct {
	mu        sync.Mutex
	created   []Attempt
	statuses  map[string]Status
	details   map[string]string
	createErr error
}

func newMockAttempts() *mockAttempts {
	return &mockAttempts{statuses: make(map[string]Status), details: make(map[string]string)}
}

func (m *mockAttempts) Create(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, *a)
	return nil
}

func (m *mockAttempts) UpdateStatus(_ context.Context, id string, status Status, detail string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	m.details[id] = detail
	return nil
}

func (m *mockAttempts) ListByAlert(context.Context, string) ([]Attempt, error) { return nil, nil }
func (m *mockAttempts) ListRecent(context.Context, int) ([]Attempt, error)    { return nil, nil }

func (m *mockAttempts) countStatus(want Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.statuses {
		if s == want {
			n++
		}
	}
	return n
}

type mockPush struct {
	mu     sync.Mutex
	sent   []string
	failBy map[string]error
}

func (m *mockPush) SendPush(_ context.Context, token string, _ template.Rendered, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failBy[token]; ok {
		return err
	}
	m.sent = append(m.sent, token)
	return nil
}

type mockEmail struct {
	mu     sync.Mutex
	sent   []string
	failBy map[string]error
}

func (m *mockEmail) SendEmail(_ context.Context, address string, _ template.Rendered) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failBy[address]; ok {
		return err
	}
	m.sent = append(m.sent, address)
	return nil
}

func testEvent(users ...string) rules.AlertEvent {
	return rules.AlertEvent{
		ID:              "alert-1",
		RuleID:          "rule-1",
		RuleName:        "Fleet speed cap",
		VehicleID:       "truck-1",
		Type:            rules.TypeSpeedLimit,
		Severity:        rules.SeverityWarning,
		Message:         "Truck truck-1 exceeded speed limit: 131.5 km/h (limit: 120 km/h)",
		TriggeredAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		AffectedUserIDs: users,
	}
}

func testDispatcher(prefs PreferenceSource, reg Registry, attempts AttemptStore, push PushProvider, email EmailProvider) *Dispatcher {
	return NewDispatcher(Options{
		Workers:       2,
		QueueSize:     8,
		Retry:         RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxTries: 2},
		DefaultLocale: "en",
	}, template.NewStore("en"), prefs, reg, attempts, push, email)
}

func TestProcess_FanOutAllChannels(t *testing.T) {
	reg := &mockRegistry{
		tokens: map[string][]string{"user-1": {"tok-1"}, "user-2": {"tok-2"}},
		emails: map[string]string{"user-1": "a@fleet.test", "user-2": "b@fleet.test"},
	}
	attempts := newMockAttempts()
	push := &mockPush{}
	email := &mockEmail{}
	d := testDispatcher(&mockPrefs{}, reg, attempts, push, email)

	d.process(context.Background(), testEvent("user-1", "user-2"))

	// Two users, two channels each.
	require.Len(t, attempts.created, 4)
	assert.Equal(t, 4, attempts.countStatus(StatusSent))
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, push.sent)
	assert.ElementsMatch(t, []string{"a@fleet.test", "b@fleet.test"}, email.sent)
}

func TestProcess_PartialFailureIsolated(t *testing.T) {
	reg := &mockRegistry{
		tokens: map[string][]string{"user-1": {"tok-1"}, "user-2": {"tok-2"}},
		emails: map[string]string{"user-1": "a@fleet.test", "user-2": "b@fleet.test"},
	}
	attempts := newMockAttempts()
	push := &mockPush{failBy: map[string]error{"tok-2": errors.New("service unavailable")}}
	d := testDispatcher(&mockPrefs{}, reg, attempts, push, &mockEmail{})

	d.process(context.Background(), testEvent("user-1", "user-2"))

	// One channel fails for one user; the other three deliveries proceed.
	require.Len(t, attempts.created, 4)
	assert.Equal(t, 3, attempts.countStatus(StatusSent))
	assert.Equal(t, 1, attempts.countStatus(StatusFailed))
}

func TestProcess_ChannelFilteredByRuleAndPrefs(t *testing.T) {
	reg := &mockRegistry{
		tokens: map[string][]string{"user-1": {"tok-1"}},
		emails: map[string]string{"user-1": "a@fleet.test"},
	}
	attempts := newMockAttempts()
	push := &mockPush{}
	email := &mockEmail{}

	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelPush: true, ChannelEmail: false}},
	}}
	d := testDispatcher(prefs, reg, attempts, push, email)

	d.process(context.Background(), testEvent("user-1"))

	// Email disabled by the user: only the push attempt exists.
	require.Len(t, attempts.created, 1)
	assert.Equal(t, ChannelPush, attempts.created[0].Channel)
	assert.Empty(t, email.sent)

	// Rule restricted to email only, but user disabled email: nothing goes out.
	ev := testEvent("user-1")
	ev.Channels = []string{"email"}
	d.process(context.Background(), ev)
	require.Len(t, attempts.created, 1)
}

func TestProcess_InvalidTokenDeactivated(t *testing.T) {
	reg := &mockRegistry{
		tokens: map[string][]string{"user-1": {"tok-dead", "tok-live"}},
	}
	attempts := newMockAttempts()
	push := &mockPush{failBy: map[string]error{"tok-dead": ErrInvalidDestination}}

	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelPush: true}},
	}}
	d := testDispatcher(prefs, reg, attempts, push, &mockEmail{})

	d.process(context.Background(), testEvent("user-1"))

	// One live token is enough for the attempt to count as sent.
	assert.Equal(t, 1, attempts.countStatus(StatusSent))
	assert.Equal(t, []string{"tok-dead"}, reg.deactivated)
	assert.Equal(t, []string{"tok-live"}, push.sent)
}

func TestProcess_EmailBounceRecorded(t *testing.T) {
	reg := &mockRegistry{
		emails: map[string]string{"user-1": "gone@fleet.test"},
	}
	attempts := newMockAttempts()
	email := &mockEmail{failBy: map[string]error{"gone@fleet.test": ErrBounced}}

	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelEmail: true}},
	}}
	d := testDispatcher(prefs, reg, attempts, &mockPush{}, email)

	d.process(context.Background(), testEvent("user-1"))

	assert.Equal(t, 1, attempts.countStatus(StatusBounced))
	assert.Equal(t, []string{"user-1"}, reg.bounced)
}

func TestProcess_PreferenceFailureUsesDefaults(t *testing.T) {
	reg := &mockRegistry{
		tokens: map[string][]string{"user-1": {"tok-1"}},
		emails: map[string]string{"user-1": "a@fleet.test"},
	}
	attempts := newMockAttempts()
	d := testDispatcher(&mockPrefs{err: errors.New("collaborator down")}, reg, attempts, &mockPush{}, &mockEmail{})

	d.process(context.Background(), testEvent("user-1"))

	// Defaults: all channels enabled, default locale.
	assert.Equal(t, 2, attempts.countStatus(StatusSent))
}

func TestProcess_AttemptStoreFailureStillDelivers(t *testing.T) {
	reg := &mockRegistry{tokens: map[string][]string{"user-1": {"tok-1"}}}
	attempts := newMockAttempts()
	attempts.createErr = errors.New("db down")
	push := &mockPush{}

	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelPush: true}},
	}}
	d := testDispatcher(prefs, reg, attempts, push, &mockEmail{})

	d.process(context.Background(), testEvent("user-1"))

	assert.Equal(t, []string{"tok-1"}, push.sent)
}

func TestProcess_RetryEventuallySucceeds(t *testing.T) {
	reg := &mockRegistry{emails: map[string]string{"user-1": "a@fleet.test"}}
	attempts := newMockAttempts()

	var calls int
	email := &flakyEmail{failures: 1, calls: &calls}
	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelEmail: true}},
	}}
	d := testDispatcher(prefs, reg, attempts, &mockPush{}, email)

	d.process(context.Background(), testEvent("user-1"))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, attempts.countStatus(StatusSent))
}

type flakyEmail struct {
	failures int
	calls    *int
}

func (f *flakyEmail) SendEmail(context.Context, string, template.Rendered) error {
	*f.calls++
	if *f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func TestDispatch_FullQueueDropsWithoutBlocking(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1},
		template.NewStore("en"), &mockPrefs{}, &mockRegistry{}, newMockAttempts(), &mockPush{}, &mockEmail{})

	done := make(chan struct{})
	go func() {
		// Workers are not running: the second dispatch must drop, not block.
		d.Dispatch(testEvent("user-1"))
		d.Dispatch(testEvent("user-1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestRun_DrainsQueueOnShutdown(t *testing.T) {
	reg := &mockRegistry{tokens: map[string][]string{"user-1": {"tok-1"}}}
	attempts := newMockAttempts()
	push := &mockPush{}
	prefs := &mockPrefs{byUser: map[string]Preferences{
		"user-1": {UserID: "user-1", EnabledChannels: map[Channel]bool{ChannelPush: true}},
	}}
	d := testDispatcher(prefs, reg, attempts, push, &mockEmail{})

	for i := 0; i < 3; i++ {
		d.Dispatch(testEvent("user-1"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, push.sent, 3)
}
