package replication

import (
	"log/slog"
	"time"
)

// Log appends entry locally and waits until the slave acknowledges
// everything up to and including it, at most timeout. A timeout flips
// the node into master-only mode instead of failing the caller: the
// local write is durable either way, so Log always returns true.
func (n *Node) Log(entry []byte, timeout time.Duration) bool {
	n.mu.Lock()
	if !n.leader {
		n.mu.Unlock()
		fatal("log on a slave node", nil)
	}
	length := n.appendLocked(entry)
	last := n.current
	n.current += length
	n.workAvailable.Signal()
	masterOnly, synced := n.masterOnly, n.synced
	n.mu.Unlock()

	// slave is way behind, do not wait
	if masterOnly && synced < last {
		slog.Warn("sync in master-only mode, not waiting")
		n.mu.Lock()
		n.applied = n.current
		n.mu.Unlock()
		return true
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	n.mu.Lock()
	for n.synced != n.current {
		done := n.logDone
		n.mu.Unlock()
		select {
		case <-done:
			n.mu.Lock()
		case <-timer.C:
			n.mu.Lock()
			n.masterOnly = true
			n.mu.Unlock()
			slog.Warn("sync log timeout, entering master-only mode")
			return true
		}
	}
	if n.masterOnly {
		n.masterOnly = false
		slog.Info("leaves master-only mode")
	}
	n.mu.Unlock()

	slog.Debug("sync log replicated", "took", time.Since(start))
	return true
}

// LogAsync appends entry locally and registers cb to fire once the
// slave acknowledges the entry, or after the async timeout, whichever
// comes first. In master-only mode with the slave behind, nothing is
// registered and cb fires inline before LogAsync returns. cb runs
// exactly once, always with true.
func (n *Node) LogAsync(entry []byte, cb func(bool)) {
	n.mu.Lock()
	if !n.leader {
		n.mu.Unlock()
		fatal("log on a slave node", nil)
	}
	length := n.appendLocked(entry)

	if n.masterOnly && n.synced < n.current {
		// slave is behind, complete without waiting
		n.applied = n.current
		n.current += length
		n.mu.Unlock()
		cb(true)
		return
	}

	offset := n.current
	n.callbacks.Store(offset, cb)

	timeout := n.cfg.AsyncTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	time.AfterFunc(timeout, func() {
		n.processCallback(offset, length, true)
	})

	n.workAvailable.Signal()
	n.current += length
	n.mu.Unlock()
}

// processCallback completes the async callback registered at offset, if
// it is still pending. Both the replicator and the timeout task come
// through here; LoadAndDelete picks a single winner, so a callback can
// never fire twice. timeoutCheck marks the timeout path: winning there
// means the slave did not confirm the entry in time and the node
// degrades to master-only mode.
func (n *Node) processCallback(offset, length uint32, timeoutCheck bool) {
	cb, ok := n.callbacks.LoadAndDelete(offset)
	if !ok {
		return
	}
	cb(true)

	n.mu.Lock()
	defer n.mu.Unlock()
	if offset+length > n.applied {
		n.applied = offset + length
	}
	if timeoutCheck {
		if !n.masterOnly {
			slog.Warn("async ack timeout, entering master-only mode", "offset", offset)
			n.masterOnly = true
		}
		return
	}
	if n.masterOnly && offset+length == n.current {
		n.masterOnly = false
		slog.Info("leaves master-only mode")
	}
}

// appendLocked writes the entry to the log file and returns its on-disk
// size. Called with mu held.
func (n *Node) appendLocked(entry []byte) uint32 {
	length, err := n.log.Append(entry)
	if err != nil {
		fatal("append to sync log", err)
	}
	return length
}
