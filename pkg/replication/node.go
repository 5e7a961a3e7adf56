package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"metasync/pkg/config"
	"metasync/pkg/wal"
)

// pending async completions, keyed by the entry's start offset
type callbackMap = skipmap.OrderedMap[uint32, func(bool)]

// Node is one side of the replication pair.
//
// Three offsets describe its progress: current is one past the last
// locally appended byte, synced is one past the last byte the slave has
// acknowledged, applied is one past the last byte delivered to the
// state machine on this node. All three live under mu. workAvailable
// wakes the replicator when current advances; logDone is closed and
// re-made each time synced catches up with current.
type Node struct {
	cfg config.SyncConfig

	client  Transport
	applyFn func(entry []byte)

	log        *wal.Log
	checkpoint *wal.Checkpoint

	mu            sync.Mutex
	workAvailable *sync.Cond
	logDone       chan struct{}
	current       uint32
	synced        uint32
	applied       uint32
	masterOnly    bool
	exiting       bool
	leader        bool

	masterAddr string
	slaveAddr  string

	callbacks *callbackMap

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Status is a point-in-time snapshot of the offsets and mode.
type Status struct {
	Role       string `json:"role"`
	Current    uint32 `json:"current"`
	Synced     uint32 `json:"synced"`
	Applied    uint32 `json:"applied"`
	MasterOnly bool   `json:"master_only"`
	Pending    int    `json:"pending_callbacks"`
}

func NewNode(cfg config.SyncConfig, client Transport) (*Node, error) {
	peer, err := cfg.Peer()
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		client:    client,
		logDone:   make(chan struct{}),
		leader:    cfg.IsMaster(),
		callbacks: skipmap.New[uint32, func(bool)](),
	}
	n.workAvailable = sync.NewCond(&n.mu)
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if n.leader {
		n.masterAddr, n.slaveAddr = cfg.Node, peer
	} else {
		n.masterAddr, n.slaveAddr = peer, cfg.Node
	}
	return n, nil
}

// RegisterCallback installs the state machine apply function. It must
// be set before Init: recovery replays through it.
func (n *Node) RegisterCallback(fn func(entry []byte)) {
	n.applyFn = fn
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leader
}

// Init opens the log, replays entries past the applied checkpoint into
// the state machine and, on the master, starts the replicator. It must
// complete before any write path runs.
func (n *Node) Init() error {
	if n.applyFn == nil {
		return fmt.Errorf("apply callback is not registered")
	}

	l, err := wal.Open(n.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open sync log: %w", err)
	}
	n.log = l
	n.checkpoint = wal.NewCheckpoint(n.cfg.DataDir)

	n.current = n.log.Size()
	n.synced = n.current
	slog.Info("sync log opened", "current", n.current)

	applied, ok, err := n.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok {
		if applied > n.synced {
			return fmt.Errorf("applied checkpoint %d is past log end %d", applied, n.synced)
		}
		n.applied = applied
		if err := n.log.SeekTo(applied); err != nil {
			return err
		}
	}

	for n.applied < n.synced {
		entry, err := n.log.ReadEntry()
		if err != nil {
			return fmt.Errorf("recovery replay at offset %d: %w", n.applied, err)
		}
		n.applyFn(entry)
		n.applied += wal.EntrySize(entry)
	}
	slog.Info("recovery replay done", "applied", n.applied)

	if n.leader {
		n.wg.Add(1)
		go n.backgroundLog()
	}
	n.wg.Add(1)
	go n.statusLoop()
	return nil
}

// SwitchToLeader promotes a slave after its master is gone. The
// replicator restarts from offset zero: how much of the log the new
// slave holds is unknown, and the fast-forward on its stale rejections
// finds out in one round trip.
func (n *Node) SwitchToLeader() {
	n.mu.Lock()
	if n.leader {
		n.mu.Unlock()
		return
	}
	n.leader = true
	n.synced = 0
	if err := n.log.SeekTo(0); err != nil {
		n.mu.Unlock()
		fatal("rewind sync log reader", err)
	}
	n.masterAddr, n.slaveAddr = n.slaveAddr, n.masterAddr
	n.client.Rebind(n.slaveAddr)
	slave := n.slaveAddr
	n.mu.Unlock()

	n.wg.Add(1)
	go n.backgroundLog()
	slog.Info("node switched to leader", "slave", slave)
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	role := config.RoleSlave
	if n.leader {
		role = config.RoleMaster
	}
	return Status{
		Role:       role,
		Current:    n.current,
		Synced:     n.synced,
		Applied:    n.applied,
		MasterOnly: n.masterOnly,
		Pending:    n.callbacks.Len(),
	}
}

// Stop unblocks the replicator, stops the status task and closes the
// log. In-flight transport calls are cancelled through the node context.
func (n *Node) Stop() {
	n.mu.Lock()
	n.exiting = true
	n.workAvailable.Broadcast()
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()

	if n.log != nil {
		if err := n.log.Close(); err != nil {
			slog.Warn("close sync log", "error", err)
		}
	}
}

func (n *Node) statusLoop() {
	defer n.wg.Done()

	interval := n.cfg.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			// one last checkpoint on the way out
			n.logStatus()
			return
		case <-ticker.C:
			n.logStatus()
		}
	}
}

func (n *Node) logStatus() {
	st := n.Status()
	slog.Info("sync status",
		"synced", st.Synced,
		"current", st.Current,
		"applied", st.Applied,
		"pending_callbacks", st.Pending,
		"master_only", st.MasterOnly)

	if err := n.checkpoint.Store(st.Applied); err != nil {
		slog.Warn("checkpoint applied offset", "error", err)
	}
}

// signalLogDoneLocked wakes every synchronous writer waiting for the
// slave to catch up. Called with mu held.
func (n *Node) signalLogDoneLocked() {
	close(n.logDone)
	n.logDone = make(chan struct{})
}

// fatal matches the original semantics of an unrecoverable log fault:
// once a file write fails, the file length can no longer equal current
// and no offset invariant survives.
func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	panic(fmt.Sprintf("replication: %s: %v", msg, err))
}
