package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketdesk/internal/domain"
	"ticketdesk/internal/gateway"
	"ticketdesk/internal/retry"
	"ticketdesk/internal/store"
)

type fakeGateway struct {
	mu       sync.Mutex
	healthy  bool
	tickets  []domain.Ticket
	fetchErr error
	checks   int
	fetches  int
}

func (f *fakeGateway) CheckConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.healthy
}

func (f *fakeGateway) FetchEmails(context.Context) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Ticket(nil), f.tickets...), nil
}

func (f *fakeGateway) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.fetches
}

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

type memJournal struct {
	kinds []string
}

func (m *memJournal) Record(_ context.Context, kind string, _ int, _ map[string]any) error {
	m.kinds = append(m.kinds, kind)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrchestrator(gw Gateway, st *store.Store, sl *recordedSleep) *Orchestrator {
	return New(Config{
		Gateway:   gw,
		Store:     st,
		Bootstrap: retry.Policy{Sleep: sl.sleep},
		Now:       func() time.Time { return fixedNow },
	})
}

func twoTickets() []domain.Ticket {
	return []domain.Ticket{
		{ID: 1, Title: "a", Status: domain.StatusNew},
		{ID: 2, Title: "b", Status: domain.StatusOpen},
	}
}

func TestRefreshReplacesStoreAndClearsBanner(t *testing.T) {
	gw := &fakeGateway{healthy: true, tickets: twoTickets()}
	st := store.New()
	j := &memJournal{}
	o := New(Config{Gateway: gw, Store: st, Journal: j, Now: func() time.Time { return fixedNow }})
	o.ReportError(KindSend, errors.New("earlier send failed"))

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, 2, st.Len())
	status := o.Status()
	assert.Empty(t, status.Error)
	assert.Equal(t, KindNone, status.ErrorKind)
	assert.Equal(t, fixedNow, status.LastRefresh)
	assert.Equal(t, 2, status.Tickets)
	assert.False(t, status.Loading)
	assert.Equal(t, []string{"refresh.succeeded"}, j.kinds)
}

func TestRefreshTwiceIsIdempotent(t *testing.T) {
	gw := &fakeGateway{healthy: true, tickets: twoTickets()}
	st := store.New()
	o := newOrchestrator(gw, st, &recordedSleep{})

	require.NoError(t, o.Refresh(context.Background()))
	first := st.All()
	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, first, st.All())
	assert.Equal(t, 2, st.Len())
}

func TestRefreshEmptyBackend(t *testing.T) {
	gw := &fakeGateway{healthy: true, tickets: []domain.Ticket{}}
	st := store.New()
	st.Replace(twoTickets())
	o := newOrchestrator(gw, st, &recordedSleep{})

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 0, st.Counts().All)
}

func TestRefreshServiceUnavailableKeepsStore(t *testing.T) {
	gw := &fakeGateway{healthy: false}
	st := store.New()
	st.Replace(twoTickets())
	before := st.All()
	o := newOrchestrator(gw, st, &recordedSleep{})

	err := o.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, before, st.All())
	_, fetches := gw.counts()
	assert.Zero(t, fetches)

	status := o.Status()
	assert.Equal(t, KindServiceUnavailable, status.ErrorKind)
	assert.Equal(t, ErrServiceUnavailable.Error(), status.Error)
}

func TestRefreshGatewayErrorKeepsStore(t *testing.T) {
	gwErr := &gateway.Error{Op: "fetch-emails", StatusCode: 500}
	gw := &fakeGateway{healthy: true, fetchErr: gwErr}
	st := store.New()
	st.Replace(twoTickets())
	o := newOrchestrator(gw, st, &recordedSleep{})

	err := o.Refresh(context.Background())
	var target *gateway.Error
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, KindGateway, o.Status().ErrorKind)

	o.DismissError()
	assert.Empty(t, o.Status().Error)
}

func TestBootstrapExhaustsAfterThreeAttempts(t *testing.T) {
	gw := &fakeGateway{healthy: false}
	sl := &recordedSleep{}
	o := newOrchestrator(gw, store.New(), sl)

	err := o.Bootstrap(context.Background())
	assert.ErrorIs(t, err, ErrBootstrapExhausted)
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	checks, _ := gw.counts()
	assert.Equal(t, 3, checks)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sl.waits)

	status := o.Status()
	assert.Equal(t, KindBootstrapExhausted, status.ErrorKind)
	assert.Equal(t, ErrBootstrapExhausted.Error(), status.Error)
}

func TestBootstrapRecoversOnSecondAttempt(t *testing.T) {
	gw := &flakyGateway{failures: 1, tickets: twoTickets()}
	sl := &recordedSleep{}
	st := store.New()
	o := newOrchestrator(gw, st, sl)

	require.NoError(t, o.Bootstrap(context.Background()))
	assert.Equal(t, 2, gw.calls)
	assert.Len(t, sl.waits, 1)
	assert.Equal(t, 2, st.Len())
	assert.Empty(t, o.Status().Error)
}

type flakyGateway struct {
	failures int
	calls    int
	tickets  []domain.Ticket
}

func (f *flakyGateway) CheckConnection(context.Context) bool {
	f.calls++
	return f.calls > f.failures
}

func (f *flakyGateway) FetchEmails(context.Context) ([]domain.Ticket, error) {
	return f.tickets, nil
}

func TestStartRejectsBadSchedule(t *testing.T) {
	o := New(Config{Gateway: &fakeGateway{}, Store: store.New(), Schedule: "every now and then"})
	assert.Error(t, o.Start(context.Background()))
}

func TestScheduledRefreshStopsOnTeardown(t *testing.T) {
	gw := &fakeGateway{healthy: true, tickets: twoTickets()}
	o := New(Config{Gateway: gw, Store: store.New(), Schedule: "@every 1s"})

	require.NoError(t, o.Start(context.Background()))
	assert.Error(t, o.Start(context.Background()), "second start must fail")
	require.Eventually(t, func() bool {
		_, fetches := gw.counts()
		return fetches >= 1
	}, 3*time.Second, 50*time.Millisecond)

	o.Stop()
	_, after := gw.counts()
	time.Sleep(1500 * time.Millisecond)
	_, later := gw.counts()
	assert.Equal(t, after, later)
	o.Stop()
}
