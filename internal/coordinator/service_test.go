package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tabletcoord/internal/cluster"
	"github.com/dreamware/tabletcoord/internal/coordclient"
	"github.com/dreamware/tabletcoord/internal/transport"
	"github.com/dreamware/tabletcoord/internal/wire"
)

type assignments struct {
	mu   sync.Mutex
	list []Recovery
}

func (a *assignments) add(r Recovery) {
	a.mu.Lock()
	a.list = append(a.list, r)
	a.mu.Unlock()
}

func (a *assignments) last(t *testing.T) Recovery {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.list)
	return a.list[len(a.list)-1]
}

func (a *assignments) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.list)
}

// newTestCoordinator wires a Service to a coordclient.Client over a
// loopback driver.
func newTestCoordinator(t *testing.T, health *HealthMonitor) (*Service, *coordclient.Client, *assignments) {
	t.Helper()
	assigned := &assignments{}
	svc := NewService(health, assigned.add)
	session := transport.NewSession(transport.NewLoopbackDriver(svc), "coordinator",
		transport.SessionConfig{Timeout: time.Second})
	t.Cleanup(session.Close)

	client := coordclient.New(session)
	client.Terminate = func() { t.Error("unexpected termination") }
	return svc, client, assigned
}

func statusOf(t *testing.T, err error) wire.Status {
	t.Helper()
	status, ok := coordclient.StatusOf(err)
	require.True(t, ok, "expected a coordinator status, got %v", err)
	return status
}

func TestEnlistIssuesUniqueIds(t *testing.T) {
	_, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	seen := map[cluster.ServerId]bool{}
	for i := 0; i < 20; i++ {
		id, err := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "m", 0)
		require.NoError(t, err)
		assert.True(t, id.IsValid())
		assert.False(t, seen[id])
		seen[id] = true
	}
}

// TestEnlistReplacingRetiresOldId re-enlists a server in place of its old
// incarnation: the old id is no longer a member and never comes back.
func TestEnlistReplacingRetiresOldId(t *testing.T) {
	svc, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	old, err := client.EnlistServer(ctx, cluster.InvalidServerId, masterAndBackup, "host:1", 100)
	require.NoError(t, err)
	require.NoError(t, client.CheckMembership(ctx, old))

	replacement, err := client.EnlistServer(ctx, old, masterAndBackup, "host:1", 100)
	require.NoError(t, err)
	assert.NotEqual(t, old, replacement)

	err = client.CheckMembership(ctx, old)
	assert.True(t, coordclient.IsCallerNotInCluster(err))
	assert.NoError(t, client.CheckMembership(ctx, replacement))

	list, err := client.GetServerList(ctx, masterAndBackup)
	require.NoError(t, err)
	_, found := list.Find(old)
	assert.False(t, found)
	entry, found := list.Find(replacement)
	require.True(t, found)
	assert.Equal(t, uint32(100), entry.ReadSpeed)

	_, stillKnown := svc.Servers().Get(old)
	assert.False(t, stillKnown, "a master with no tablets is removed at once")
}

// TestReplacedMasterTabletsAreRecovered checks that a replaced master's
// tablets go through recovery, here onto the replacement itself.
func TestReplacedMasterTabletsAreRecovered(t *testing.T) {
	svc, client, assigned := newTestCoordinator(t, nil)
	ctx := context.Background()

	old, err := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "host:1", 0)
	require.NoError(t, err)
	_, err = svc.CreateTable("t", 2)
	require.NoError(t, err)

	replacement, err := client.EnlistServer(ctx, old, masterOnly, "host:1", 0)
	require.NoError(t, err)

	r := assigned.last(t)
	assert.Equal(t, old, r.Crashed)
	assert.Equal(t, replacement, r.Master)
	require.NoError(t, client.RecoveryMasterFinished(ctx, r.Id, replacement, r.Tablets, true))

	m, err := client.GetTabletMap(ctx)
	require.NoError(t, err)
	assert.Len(t, m.OwnedBy(replacement), 2)
	assert.Empty(t, m.OwnedBy(old))
}

func TestGetServerListFilters(t *testing.T) {
	_, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	m, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "m", 0)
	b, _ := client.EnlistServer(ctx, cluster.InvalidServerId, backupOnly, "b", 10)

	masters, err := client.GetMasterList(ctx)
	require.NoError(t, err)
	require.Len(t, masters, 1)
	assert.Equal(t, m, masters[0].ServerId)
	assert.Equal(t, "m", masters[0].ServiceLocator)

	backups, err := client.GetBackupList(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, b, backups[0].ServerId)

	none, err := client.GetServerList(ctx, cluster.NewServiceMask(cluster.PingService))
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestReassignThenTabletMapShowsNewOwner moves one tablet and checks the
// tablet map reflects it for exactly that range.
func TestReassignThenTabletMapShowsNewOwner(t *testing.T) {
	svc, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	a, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	tableId, err := svc.CreateTable("users", 3)
	require.NoError(t, err)
	b, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "b", 0)

	before, err := client.GetTabletMap(ctx)
	require.NoError(t, err)
	require.Len(t, before, 3)
	moved := before[1]
	ctime := cluster.Ctime{SegmentId: 12, SegmentOffset: 4096}

	require.NoError(t, client.ReassignTabletOwnership(ctx, tableId, moved.FirstKeyHash, moved.LastKeyHash, b, ctime))

	after, err := client.GetTabletMap(ctx)
	require.NoError(t, err)
	for i, tab := range after {
		if tab.SameRange(moved) {
			assert.Equal(t, b, tab.ServerId)
			assert.Equal(t, ctime, tab.Ctime)
		} else {
			assert.Equal(t, before[i], tab)
			assert.Equal(t, a, tab.ServerId)
		}
	}
}

func TestReassignErrors(t *testing.T) {
	svc, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	a, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	tableId, _ := svc.CreateTable("t", 2)
	tab := svc.Tablets().Snapshot()[0]

	tests := []struct {
		name    string
		tableId uint64
		first   uint64
		last    uint64
		owner   cluster.ServerId
		want    wire.Status
	}{
		{"unknown table", tableId + 1, tab.FirstKeyHash, tab.LastKeyHash, a, wire.StatusTableDoesntExist},
		{"inexact range", tableId, tab.FirstKeyHash, tab.LastKeyHash - 1, a, wire.StatusUnknownTablet},
		{"owner not up", tableId, tab.FirstKeyHash, tab.LastKeyHash, cluster.NewServerId(40, 0), wire.StatusServerNotUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.ReassignTabletOwnership(ctx, tt.tableId, tt.first, tt.last, tt.owner, cluster.Ctime{})
			assert.Equal(t, tt.want, statusOf(t, err))
		})
	}
}

func TestRecoveryMasterFinishedOverRpc(t *testing.T) {
	svc, client, assigned := newTestCoordinator(t, nil)
	ctx := context.Background()

	crashed, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	_, err := svc.CreateTable("t", 1)
	require.NoError(t, err)
	master, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "b", 0)

	svc.ServerDown(crashed)
	r := assigned.last(t)
	require.Equal(t, master, r.Master)

	// Failure grants nothing and starts another attempt.
	require.NoError(t, client.RecoveryMasterFinished(ctx, r.Id, master, r.Tablets, false))
	m, _ := client.GetTabletMap(ctx)
	assert.Empty(t, m.OwnedBy(master))
	assert.Equal(t, cluster.TabletRecovering, m[0].Status)

	retry := assigned.last(t)
	assert.NotEqual(t, r.Id, retry.Id)

	err = client.RecoveryMasterFinished(ctx, r.Id, master, r.Tablets, true)
	assert.Equal(t, wire.StatusUnknownRecovery, statusOf(t, err))

	require.NoError(t, client.RecoveryMasterFinished(ctx, retry.Id, master, retry.Tablets, true))
	m, _ = client.GetTabletMap(ctx)
	require.Len(t, m, 1)
	assert.Equal(t, master, m[0].ServerId)
	assert.Equal(t, cluster.TabletNormal, m[0].Status)
}

// TestReassignRefusesRecoveringTablet checks that a recovering tablet
// cannot be handed out around its recovery, and that the recovery still
// completes and retires the crashed server.
func TestReassignRefusesRecoveringTablet(t *testing.T) {
	svc, client, assigned := newTestCoordinator(t, nil)
	ctx := context.Background()

	crashed, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	tableId, err := svc.CreateTable("t", 1)
	require.NoError(t, err)
	client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "b", 0)
	other, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "c", 0)

	svc.ServerDown(crashed)
	r := assigned.last(t)
	require.Len(t, r.Tablets, 1)
	tab := r.Tablets[0]

	err = client.ReassignTabletOwnership(ctx, tableId, tab.FirstKeyHash, tab.LastKeyHash, other, cluster.Ctime{})
	assert.Equal(t, wire.StatusRetry, statusOf(t, err))
	m, _ := client.GetTabletMap(ctx)
	require.Len(t, m, 1)
	assert.Equal(t, crashed, m[0].ServerId)
	assert.Equal(t, cluster.TabletRecovering, m[0].Status)

	require.NoError(t, client.RecoveryMasterFinished(ctx, r.Id, r.Master, r.Tablets, true))
	m, _ = client.GetTabletMap(ctx)
	assert.Equal(t, r.Master, m[0].ServerId)
	assert.Equal(t, cluster.TabletNormal, m[0].Status)
	assert.Equal(t, 1, assigned.count())
	assert.Empty(t, svc.Recoveries().Active())
	_, known := svc.Servers().Get(crashed)
	assert.False(t, known)

	// Once recovered the tablet moves freely again.
	require.NoError(t, client.ReassignTabletOwnership(ctx, tableId, tab.FirstKeyHash, tab.LastKeyHash, other, cluster.Ctime{}))
}

func TestAbandonRecoveryReschedules(t *testing.T) {
	svc, client, assigned := newTestCoordinator(t, nil)
	ctx := context.Background()

	crashed, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	_, err := svc.CreateTable("t", 1)
	require.NoError(t, err)
	client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "b", 0)
	client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "c", 0)

	svc.ServerDown(crashed)
	first := assigned.last(t)

	svc.AbandonRecovery(first.Id, first.Master)
	require.Equal(t, 2, assigned.count())
	second := assigned.last(t)
	assert.NotEqual(t, first.Id, second.Id)
	assert.NotEqual(t, first.Master, second.Master)

	// Abandoning twice is harmless.
	svc.AbandonRecovery(first.Id, first.Master)
	assert.Equal(t, 2, assigned.count())
	assert.Len(t, svc.Recoveries().Active(), 1)
}

func TestSetMasterRecoveryInfoOverRpc(t *testing.T) {
	svc, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	id, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	require.NoError(t, client.SetMasterRecoveryInfo(ctx, id, cluster.RecoveryInfo("one")))
	require.NoError(t, client.SetMasterRecoveryInfo(ctx, id, cluster.RecoveryInfo("two")))

	info, ok := svc.Servers().RecoveryInfo(id)
	require.True(t, ok)
	assert.Equal(t, "two", string(info))

	err := client.SetMasterRecoveryInfo(ctx, cluster.NewServerId(9, 9), cluster.RecoveryInfo("x"))
	assert.Equal(t, wire.StatusServerNotUp, statusOf(t, err))
}

// TestHintServerDownIsVerified checks that a hint about a server that still
// answers is ignored, and one about a dead server starts recovery.
func TestHintServerDownIsVerified(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, 3)
	defer monitor.Stop()

	var mu sync.Mutex
	dead := map[string]bool{}
	monitor.SetCheckFunction(func(locator string) error {
		mu.Lock()
		defer mu.Unlock()
		if dead[locator] {
			return errors.New("connection refused")
		}
		return nil
	})

	svc, client, assigned := newTestCoordinator(t, monitor)
	ctx := context.Background()

	a, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "a", 0)
	_, err := svc.CreateTable("t", 1)
	require.NoError(t, err)
	b, _ := client.EnlistServer(ctx, cluster.InvalidServerId, masterOnly, "b", 0)

	require.NoError(t, client.HintServerDown(ctx, a))
	assert.True(t, svc.Servers().IsUp(a))
	assert.Equal(t, 0, assigned.count())

	mu.Lock()
	dead["a"] = true
	mu.Unlock()

	require.NoError(t, client.HintServerDown(ctx, a))
	assert.False(t, svc.Servers().IsUp(a))
	r := assigned.last(t)
	assert.Equal(t, a, r.Crashed)
	assert.Equal(t, b, r.Master)

	// Hints about servers that are already down, or unknown, are accepted
	// and ignored.
	require.NoError(t, client.HintServerDown(ctx, a))
	require.NoError(t, client.HintServerDown(ctx, cluster.NewServerId(77, 0)))
	assert.Equal(t, 1, assigned.count())
}

func TestVerifyMembershipOverRpc(t *testing.T) {
	svc, client, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	id, _ := client.EnlistServer(ctx, cluster.InvalidServerId, backupOnly, "a", 10)
	assert.NoError(t, client.VerifyMembership(ctx, id))

	svc.ServerDown(id)
	terminated := false
	client.Terminate = func() { terminated = true }
	err := client.VerifyMembership(ctx, id)
	assert.True(t, terminated)
	assert.True(t, coordclient.IsCallerNotInCluster(err))
}

func TestHandleRPCRejectsMalformedRequests(t *testing.T) {
	svc := NewService(nil, nil)
	ctx := context.Background()

	decode := func(resp []byte) wire.Status {
		common, err := wire.DecodeResponseCommon(resp)
		require.NoError(t, err)
		return common.Status
	}

	assert.Equal(t, wire.StatusMessageTooShort, decode(svc.HandleRPC(ctx, []byte{1})))

	unknown, err := wire.EncodeRequest(fakeRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusUnimplementedRequest, decode(svc.HandleRPC(ctx, unknown.Bytes())))

	req, err := wire.EncodeRequest(wire.HintServerDownRequest{ServerId: 1}, nil)
	require.NoError(t, err)
	truncated := req.Bytes()[:6]
	assert.Equal(t, wire.StatusMessageTooShort, decode(svc.HandleRPC(ctx, truncated)))

	req, err = wire.EncodeRequest(wire.SetMasterRecoveryInfoRequest{ServerId: 1, InfoLength: 3}, []byte("abc"))
	require.NoError(t, err)
	extra := append(req.Bytes(), 'x')
	assert.Equal(t, wire.StatusRequestFormatError, decode(svc.HandleRPC(ctx, extra)))
}

type fakeRequest struct{}

func (fakeRequest) Op() wire.Opcode { return wire.Opcode(999) }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want wire.Status
	}{
		{nil, wire.StatusOK},
		{ErrServerNotUp, wire.StatusServerNotUp},
		{ErrUnknownTablet, wire.StatusUnknownTablet},
		{ErrTableDoesntExist, wire.StatusTableDoesntExist},
		{ErrUnknownRecovery, wire.StatusUnknownRecovery},
		{ErrInvalidParameter, wire.StatusInvalidParameter},
		{ErrTableExists, wire.StatusInvalidParameter},
		{ErrNoMasters, wire.StatusRetry},
		{ErrTabletRecovering, wire.StatusRetry},
		{wire.ErrMessageTooShort, wire.StatusMessageTooShort},
		{wire.ErrTrailerLength, wire.StatusRequestFormatError},
		{statusError{wire.StatusCallerNotInCluster}, wire.StatusCallerNotInCluster},
		{errors.New("boom"), wire.StatusInternalError},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
