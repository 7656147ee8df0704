package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"gravbar/internal/langserver"
	"gravbar/internal/locator"
	"gravbar/internal/quota"
)

var testConn = locator.ConnectionInfo{PID: 99, CsrfToken: "tok", Port: 42617}

func localStatus() *langserver.UserStatus {
	return &langserver.UserStatus{
		Account: quota.Account{UserName: "Ada", UserEmail: "ada@example.com", PlanName: "Pro"},
		Quotas: []quota.ModelQuota{
			{ModelKey: "local-1", DisplayLabel: "Local One", RemainingFraction: 0.5},
			{ModelKey: "local-2", DisplayLabel: "Local Two", RemainingFraction: 0.8},
		},
	}
}

func cloudModels() []quota.ModelQuota {
	return []quota.ModelQuota{
		{ModelKey: "cloud-1", DisplayLabel: "Cloud One", RemainingFraction: 0.3},
	}
}

func okLocal() *mockLocal {
	return &mockLocal{fetchFn: func(locator.ConnectionInfo) (*langserver.UserStatus, error) {
		return localStatus(), nil
	}}
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRefreshSuccess(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	local := okLocal()
	m := New(d, local, &mockCloud{}, 0)

	if got := m.Snapshot().State; got != StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}

	m.Refresh(context.Background())

	snap := m.Snapshot()
	if !snap.IsConnected() {
		t.Fatalf("state = %v, want connected (error %q)", snap.State, snap.Error)
	}
	if snap.CloudSourced {
		t.Fatal("local refresh must not be flagged cloud-sourced")
	}
	if len(snap.Quotas) != 2 || snap.Account.UserEmail != "ada@example.com" {
		t.Fatalf("snapshot not replaced: %+v", snap)
	}
	if snap.LastUpdate.IsZero() {
		t.Fatal("LastUpdate not stamped")
	}
	if local.lastConn != testConn {
		t.Fatalf("local client got conn %+v, want %+v", local.lastConn, testConn)
	}

	// Model keys are non-empty and unique within the snapshot.
	seen := map[string]bool{}
	for _, q := range snap.Quotas {
		if q.ModelKey == "" {
			t.Fatal("empty model key in snapshot")
		}
		if seen[q.ModelKey] {
			t.Fatalf("duplicate model key %q", q.ModelKey)
		}
		seen[q.ModelKey] = true
	}
}

func TestRefreshReusesCachedConnection(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	m := New(d, okLocal(), &mockCloud{}, 0)

	m.Refresh(context.Background())
	m.Refresh(context.Background())

	if got := d.callCount(); got != 1 {
		t.Fatalf("discovery ran %d times, want 1 (connection cached)", got)
	}
}

func TestFailedRPCInvalidatesConnection(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	local := &mockLocal{fetchFn: func(locator.ConnectionInfo) (*langserver.UserStatus, error) {
		return nil, langserver.ErrConnectionFailed
	}}
	m := New(d, local, &mockCloud{}, 0)

	m.Refresh(context.Background())

	snap := m.Snapshot()
	if snap.State != StateError || snap.Error == "" {
		t.Fatalf("expected error state with message, got %+v", snap)
	}

	// The failed call cleared the cached connection: the next refresh
	// re-runs discovery.
	local.setFetchFn(func(locator.ConnectionInfo) (*langserver.UserStatus, error) {
		return localStatus(), nil
	})
	m.Refresh(context.Background())

	if got := d.callCount(); got != 2 {
		t.Fatalf("discovery ran %d times, want 2 (rediscovery after failure)", got)
	}
	if !m.Snapshot().IsConnected() {
		t.Fatalf("recovery refresh failed: %+v", m.Snapshot())
	}
}

func TestRefreshDiscoveryFailure(t *testing.T) {
	d := &mockDiscoverer{err: locator.ErrProcessNotFound}
	m := New(d, okLocal(), &mockCloud{}, 0)

	m.Refresh(context.Background())

	snap := m.Snapshot()
	if snap.State != StateError {
		t.Fatalf("state = %v, want error", snap.State)
	}
	if snap.Error == "" {
		t.Fatal("discovery failure must surface as a message")
	}
}

func TestForceRefreshPrefersCloud(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	local := okLocal()
	cloud := &mockCloud{models: cloudModels(), available: true}
	m := New(d, local, cloud, 0)

	m.ForceRefresh(context.Background())

	snap := m.Snapshot()
	if !snap.IsConnected() || !snap.CloudSourced {
		t.Fatalf("expected connected cloud-sourced snapshot, got %+v", snap)
	}
	if len(snap.Quotas) != 1 || snap.Quotas[0].ModelKey != "cloud-1" {
		t.Fatalf("quota data must come from the cloud path: %+v", snap.Quotas)
	}

	// The local path runs only in the background, and only for account
	// metadata — the cloud quota list stays.
	waitFor(t, func() bool {
		return m.Snapshot().Account.UserEmail == "ada@example.com"
	})
	final := m.Snapshot()
	if len(final.Quotas) != 1 || final.Quotas[0].ModelKey != "cloud-1" {
		t.Fatalf("background account refresh replaced quota data: %+v", final.Quotas)
	}
	if !final.CloudSourced {
		t.Fatal("background account refresh cleared the cloud-sourced flag")
	}
}

func TestForceRefreshBackgroundFailureSwallowed(t *testing.T) {
	d := &mockDiscoverer{err: locator.ErrProcessNotFound}
	local := &mockLocal{fetchFn: func(locator.ConnectionInfo) (*langserver.UserStatus, error) {
		return nil, langserver.ErrConnectionFailed
	}}
	cloud := &mockCloud{models: cloudModels(), available: true}
	m := New(d, local, cloud, 0)

	m.ForceRefresh(context.Background())

	// Give the background call time to fail.
	waitFor(t, func() bool { return d.callCount() >= 1 })
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot()
	if !snap.IsConnected() || snap.Error != "" {
		t.Fatalf("background failure must not surface: %+v", snap)
	}
	if len(snap.Quotas) != 1 || snap.Quotas[0].ModelKey != "cloud-1" {
		t.Fatalf("background failure must not invalidate cloud quota data: %+v", snap.Quotas)
	}
}

func TestForceRefreshFallsBackOnCloudError(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	local := okLocal()
	cloud := &mockCloud{err: errors.New("boom")}
	m := New(d, local, cloud, 0)

	m.ForceRefresh(context.Background())

	snap := m.Snapshot()
	if !snap.IsConnected() || snap.CloudSourced {
		t.Fatalf("fallback should land a local snapshot: %+v", snap)
	}
	if len(snap.Quotas) != 2 {
		t.Fatalf("fallback quotas = %+v", snap.Quotas)
	}
	if local.callCount() != 1 {
		t.Fatalf("local called %d times, want 1", local.callCount())
	}
}

func TestForceRefreshFallsBackOnEmptyCloudResult(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	local := okLocal()
	cloud := &mockCloud{models: nil, available: true}
	m := New(d, local, cloud, 0)

	// Seed a cached connection, then force refresh: the empty cloud result
	// must invalidate it and take the same path as Refresh.
	m.Refresh(context.Background())
	if d.callCount() != 1 {
		t.Fatalf("setup discovery count = %d", d.callCount())
	}

	m.ForceRefresh(context.Background())

	if d.callCount() != 2 {
		t.Fatalf("discovery ran %d times, want 2 (connection invalidated before fallback)", d.callCount())
	}
	snap := m.Snapshot()
	if !snap.IsConnected() || snap.CloudSourced {
		t.Fatalf("fallback snapshot wrong: %+v", snap)
	}
	if cloud.callCount() != 1 {
		t.Fatalf("cloud called %d times, want 1", cloud.callCount())
	}
}

func TestUpdatesNotify(t *testing.T) {
	d := &mockDiscoverer{conn: testConn}
	m := New(d, okLocal(), &mockCloud{}, 0)

	m.Refresh(context.Background())

	select {
	case <-m.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update notification after refresh")
	}
}
