// Package monitor reconciles quota data from the local language server and
// the direct cloud endpoint into one snapshot, and owns connection-health
// state.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gravbar/internal/langserver"
	"gravbar/internal/locator"
	"gravbar/internal/quota"
)

// DefaultInterval is the periodic refresh cadence.
const DefaultInterval = 60 * time.Second

// Discoverer runs one process/socket discovery pass.
type Discoverer interface {
	Discover(ctx context.Context) (locator.ConnectionInfo, error)
}

// LocalClient performs the GetUserStatus RPC against a discovered connection.
type LocalClient interface {
	FetchUserStatus(ctx context.Context, conn locator.ConnectionInfo) (*langserver.UserStatus, error)
}

// CloudClient fetches quota directly from the cloud endpoint.
type CloudClient interface {
	FetchAvailableModels(ctx context.Context) ([]quota.ModelQuota, error)
	IsAvailable() bool
}

// State is the orchestrator's lifecycle position. Connected and error states
// feed back to loading on every refresh trigger.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Snapshot is the read-only view handed to consumers. Quota lists are
// replaced wholesale on every successful fetch.
type Snapshot struct {
	State        State              `json:"state"`
	Quotas       []quota.ModelQuota `json:"quotas"`
	Account      quota.Account      `json:"account"`
	CloudSourced bool               `json:"cloud_sourced"`
	Error        string             `json:"error,omitempty"`
	LastUpdate   time.Time          `json:"last_update"`
}

func (s Snapshot) IsConnected() bool { return s.State == StateConnected }
func (s Snapshot) IsLoading() bool   { return s.State == StateLoading }

// Monitor serializes all refresh work behind one mutex: a refresh in flight
// completes (or fails) before the next begins. Snapshot reads never block on
// network work.
type Monitor struct {
	discover Discoverer
	local    LocalClient
	cloud    CloudClient
	interval time.Duration
	now      func() time.Time

	refreshMu sync.Mutex

	mu      sync.Mutex
	snap    Snapshot
	conn    *locator.ConnectionInfo
	updates chan struct{}
}

// New wires the orchestrator. Pass interval 0 for the default.
func New(d Discoverer, lc LocalClient, cc CloudClient, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		discover: d,
		local:    lc,
		cloud:    cc,
		interval: interval,
		now:      time.Now,
		snap:     Snapshot{State: StateIdle},
		updates:  make(chan struct{}, 1),
	}
}

// Snapshot returns the current state. Cheap; safe for any goroutine.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Updates signals after each published snapshot change. Notifications
// coalesce; consumers re-read Snapshot on receipt.
func (m *Monitor) Updates() <-chan struct{} {
	return m.updates
}

// Refresh fetches quota and account data over the local server path. On
// failure the cached connection parameters are cleared so the next call
// re-runs discovery.
func (m *Monitor) Refresh(ctx context.Context) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.refreshLocal(ctx)
}

// ForceRefresh prefers the cloud path for fresher quota data. A non-empty
// cloud result is published immediately and the local path is only invoked
// in the background to top up account metadata; its failures are swallowed.
// A cloud failure or empty result falls through to the local path.
func (m *Monitor) ForceRefresh(ctx context.Context) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.setLoading()
	models, err := m.cloud.FetchAvailableModels(ctx)
	if err == nil && len(models) > 0 {
		m.mu.Lock()
		m.snap.State = StateConnected
		m.snap.Quotas = models
		m.snap.CloudSourced = true
		m.snap.Error = ""
		m.snap.LastUpdate = m.now()
		m.mu.Unlock()
		m.notify()

		go m.refreshAccount(context.WithoutCancel(ctx))
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gravbar: cloud refresh failed, falling back: %v\n", err)
	}

	m.invalidateConnection()
	m.refreshLocal(ctx)
}

// Run refreshes on a fixed interval until ctx is done. The first pass uses
// ForceRefresh to prioritize freshness at startup.
func (m *Monitor) Run(ctx context.Context) {
	m.ForceRefresh(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

func (m *Monitor) refreshLocal(ctx context.Context) {
	m.setLoading()

	status, err := m.fetchLocal(ctx)
	if err != nil {
		m.invalidateConnection()
		m.mu.Lock()
		m.snap.State = StateError
		m.snap.Error = err.Error()
		m.mu.Unlock()
		m.notify()
		return
	}

	m.mu.Lock()
	m.snap = Snapshot{
		State:      StateConnected,
		Quotas:     status.Quotas,
		Account:    status.Account,
		LastUpdate: m.now(),
	}
	m.mu.Unlock()
	m.notify()
}

// refreshAccount is the opportunistic post-cloud account top-up. The quota
// data already published is never invalidated by it.
func (m *Monitor) refreshAccount(ctx context.Context) {
	status, err := m.fetchLocal(ctx)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.snap.Account = status.Account
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) fetchLocal(ctx context.Context) (*langserver.UserStatus, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	return m.local.FetchUserStatus(ctx, conn)
}

// connection returns the cached route or runs one discovery pass. Discovery
// is CPU-bound and runs outside the state lock; the result is published
// atomically.
func (m *Monitor) connection(ctx context.Context) (locator.ConnectionInfo, error) {
	m.mu.Lock()
	cached := m.conn
	m.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	conn, err := m.discover.Discover(ctx)
	if err != nil {
		return locator.ConnectionInfo{}, err
	}

	m.mu.Lock()
	m.conn = &conn
	m.mu.Unlock()
	return conn, nil
}

func (m *Monitor) invalidateConnection() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
}

func (m *Monitor) setLoading() {
	m.mu.Lock()
	m.snap.State = StateLoading
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}
