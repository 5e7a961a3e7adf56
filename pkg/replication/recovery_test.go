package replication

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metasync/pkg/config"
	"metasync/pkg/wal"
)

func writeEntries(t *testing.T, dir string, payloads ...string) {
	t.Helper()
	l, err := wal.Open(dir)
	require.NoError(t, err)
	for _, p := range payloads {
		_, err := l.Append([]byte(p))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())
}

func truncateLog(t *testing.T, dir string, size int64) {
	t.Helper()
	require.NoError(t, os.Truncate(filepath.Join(dir, "sync.log"), size))
}

func TestInitReplaysFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeEntries(t, dir, "a", "b", "c") // entry boundaries 0, 5, 10, 15
	require.NoError(t, wal.NewCheckpoint(dir).Store(5))

	node, err := NewNode(testCfg(config.RoleSlave, dir), stubTransport{})
	require.NoError(t, err)
	rec := &recorder{}
	node.RegisterCallback(rec.apply)
	require.NoError(t, node.Init())
	t.Cleanup(node.Stop)

	// only the entries past the checkpoint reach the state machine
	require.Equal(t, []string{"b", "c"}, rec.payloads())

	st := node.Status()
	require.Equal(t, uint32(15), st.Current)
	require.Equal(t, uint32(15), st.Applied)
	require.Equal(t, uint32(15), st.Synced)
	assertInvariants(t, node)
}

func TestInitReplaysAllWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeEntries(t, dir, "a", "b")

	node, err := NewNode(testCfg(config.RoleSlave, dir), stubTransport{})
	require.NoError(t, err)
	rec := &recorder{}
	node.RegisterCallback(rec.apply)
	require.NoError(t, node.Init())
	t.Cleanup(node.Stop)

	require.Equal(t, []string{"a", "b"}, rec.payloads())
}

func TestInitReplayMatchesLiveApplies(t *testing.T) {
	// restarting from the same log must reproduce the exact apply
	// sequence a live slave saw
	slaveRec := &recorder{}
	slave := startNode(t, config.RoleSlave, stubTransport{}, slaveRec)
	master := startNode(t, config.RoleMaster, &pairTransport{peer: slave}, &recorder{})

	for _, p := range []string{"mkdir /a", "", "rename /a /b"} {
		require.True(t, master.Log([]byte(p), time.Second))
	}
	live := slaveRec.payloads()
	dir := slave.cfg.DataDir
	slave.Stop()

	// drop the checkpoint so the whole log replays from offset zero
	require.NoError(t, os.Remove(filepath.Join(dir, "applied.log")))

	node, err := NewNode(testCfg(config.RoleSlave, dir), stubTransport{})
	require.NoError(t, err)
	replayed := &recorder{}
	node.RegisterCallback(replayed.apply)
	require.NoError(t, node.Init())
	node.Stop()

	require.Equal(t, live, replayed.payloads())
}

func TestInitFailsOnCorruptTail(t *testing.T) {
	dir := t.TempDir()
	writeEntries(t, dir, "abc")
	truncateLog(t, dir, 5) // cut into the payload

	node, err := NewNode(testCfg(config.RoleSlave, dir), stubTransport{})
	require.NoError(t, err)
	node.RegisterCallback(func([]byte) {})
	require.ErrorIs(t, node.Init(), wal.ErrTruncatedTail)
}

func TestInitRequiresRegisteredCallback(t *testing.T) {
	node, err := NewNode(testCfg(config.RoleSlave, t.TempDir()), stubTransport{})
	require.NoError(t, err)
	require.Error(t, node.Init())
}

func TestAppendLogOffsetValidation(t *testing.T) {
	rec := &recorder{}
	node := startNode(t, config.RoleSlave, stubTransport{}, rec)

	resp := node.AppendLog(AppendLogRequest{Offset: 0, LogData: []byte("abc")})
	require.True(t, resp.Success)
	require.Equal(t, uint32(7), resp.Current)

	// replaying the identical request is a stale no-op
	resp = node.AppendLog(AppendLogRequest{Offset: 0, LogData: []byte("abc")})
	require.False(t, resp.Success)
	require.Equal(t, int64(-1), resp.Offset)
	require.Equal(t, uint32(7), resp.Current)

	// a gap means the master has to rewind to our position
	resp = node.AppendLog(AppendLogRequest{Offset: 100, LogData: []byte("x")})
	require.False(t, resp.Success)
	require.Equal(t, int64(7), resp.Offset)
	require.Equal(t, uint32(7), resp.Current)

	st := node.Status()
	require.Equal(t, st.Current, st.Applied)
	require.Equal(t, st.Current, st.Synced)
	require.Equal(t, []string{"abc"}, rec.payloads())
	assertInvariants(t, node)
}

func TestRewindResyncsLaggingSlave(t *testing.T) {
	slaveRec := &recorder{}
	slave := startNode(t, config.RoleSlave, stubTransport{}, slaveRec)

	// the master restarts with a log the slave never saw: synced starts
	// at the file end, and the slave's rejection rewinds it to zero
	dir := t.TempDir()
	writeEntries(t, dir, "one", "two")
	master, err := NewNode(testCfg(config.RoleMaster, dir), &pairTransport{peer: slave})
	require.NoError(t, err)
	master.RegisterCallback(func([]byte) {})
	require.NoError(t, master.Init())
	t.Cleanup(master.Stop)
	require.Equal(t, uint32(14), master.Status().Synced)

	require.True(t, master.Log([]byte("three"), time.Second))
	waitStatus(t, master, func(st Status) bool { return st.Synced == 23 })
	require.Equal(t, []string{"one", "two", "three"}, slaveRec.payloads())
	assertInvariants(t, master)
	assertInvariants(t, slave)
}

func TestSwitchToLeaderFastForwards(t *testing.T) {
	aRec, bRec := &recorder{}, &recorder{}

	bt := &pairTransport{}
	b := startNode(t, config.RoleSlave, bt, bRec)
	a := startNode(t, config.RoleMaster, &pairTransport{peer: b}, aRec)
	bt.setPeer(a)

	for _, p := range []string{"one", "two"} {
		require.True(t, a.Log([]byte(p), time.Second))
	}
	require.Equal(t, uint32(14), b.Status().Current)

	// the old master is presumed gone; the operator promotes b
	b.SwitchToLeader()
	require.True(t, b.IsLeader())

	// the replicator restarts at zero and fast-forwards through the
	// peer's stale rejection instead of re-sending the shared prefix
	waitStatus(t, b, func(st Status) bool { return st.Synced == 14 })

	require.True(t, b.Log([]byte("three"), time.Second))
	require.Equal(t, uint32(23), b.Status().Synced)
	require.Equal(t, uint32(23), a.Status().Current)
	require.Equal(t, []string{"three"}, aRec.payloads())
	require.Equal(t, []string{"one", "two"}, bRec.payloads())
	assertInvariants(t, a)
	assertInvariants(t, b)
}

func TestSwitchToLeaderIsIdempotent(t *testing.T) {
	slave := startNode(t, config.RoleSlave, stubTransport{}, &recorder{})
	b := startNode(t, config.RoleSlave, &pairTransport{peer: slave}, &recorder{})

	b.SwitchToLeader()
	b.SwitchToLeader() // a repeated promotion signal must not restart anything
	require.True(t, b.IsLeader())
}

func TestReconcileParksAtOwnEndWhenSlaveIsAhead(t *testing.T) {
	// the slave holds a longer log than the master;
	// replication must stop at the master's own end instead of looping
	slaveRec := &recorder{}
	slave := startNode(t, config.RoleSlave, stubTransport{}, slaveRec)
	resp := slave.AppendLog(AppendLogRequest{Offset: 0, LogData: []byte("abcdefgh")})
	require.True(t, resp.Success)
	require.Equal(t, uint32(12), resp.Current)

	gate := make(chan struct{})
	tr := &pairTransport{peer: slave, gate: gate}
	master := startNode(t, config.RoleMaster, tr, &recorder{})
	require.True(t, master.Log([]byte("abc"), 0))

	close(gate)
	waitStatus(t, master, func(st Status) bool { return st.Synced == st.Current })
	require.Equal(t, uint32(7), master.Status().Synced)
	assertInvariants(t, master)
}
