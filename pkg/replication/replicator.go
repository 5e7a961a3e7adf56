package replication

import (
	"log/slog"
	"time"

	"metasync/pkg/wal"
)

// backgroundLog is the replicator loop: it parks until current moves
// past synced, then streams entries to the slave until it has caught
// up with the latest current.
func (n *Node) backgroundLog() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		for !n.exiting && n.synced == n.current {
			n.workAvailable.Wait()
		}
		if n.exiting {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		n.replicateLog()
	}
}

// replicateLog sends entries starting at synced, reconciling offsets on
// rejections, until synced reaches current. The log reader is kept
// positioned at synced throughout.
func (n *Node) replicateLog() {
	for {
		n.mu.Lock()
		if n.exiting {
			n.mu.Unlock()
			return
		}
		if n.synced == n.current {
			n.applied = n.current
			n.signalLogDoneLocked()
			n.mu.Unlock()
			return
		}
		offset := n.synced
		n.mu.Unlock()

		entry, err := n.log.ReadEntry()
		if err != nil {
			slog.Warn("incomplete record in sync log", "offset", offset, "error", err)
			return
		}
		length := wal.EntrySize(entry)

		resp, ok := n.sendAppend(AppendLogRequest{Offset: offset, LogData: entry})
		if !ok {
			return
		}
		if !resp.Success {
			n.reconcile(resp)
			continue
		}

		n.processCallback(offset, length, false)

		n.mu.Lock()
		n.synced += length
		slog.Debug("replicate log done", "synced", n.synced, "current", n.current)
		if n.masterOnly && n.synced == n.current {
			n.masterOnly = false
			slog.Info("leaves master-only mode")
		}
		n.mu.Unlock()
	}
}

// sendAppend delivers one request, retrying transport failures forever
// with a backoff. It gives up only when the node is shutting down; the
// second return value is false in that case.
func (n *Node) sendAppend(req AppendLogRequest) (AppendLogResponse, bool) {
	interval := n.cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		resp, err := n.client.AppendLog(n.ctx, req)
		if err == nil {
			return resp, true
		}
		if n.ctx.Err() != nil {
			return AppendLogResponse{}, false
		}
		slog.Warn("replicate log failed", "offset", req.Offset, "error", err)
		select {
		case <-n.ctx.Done():
			return AppendLogResponse{}, false
		case <-time.After(interval):
		}
	}
}

// reconcile moves synced after a rejection. A response offset other
// than -1 means the slave is behind: rewind and re-send from there. -1
// means the request was stale; the slave's current tells how far it
// already is, so fast-forward to it, bounded by our own log end. A
// slave past our end holds a divergent suffix this protocol cannot
// repair; replication parks at our end and the suffix is ignored.
func (n *Node) reconcile(resp AppendLogResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var target uint32
	if resp.Offset != -1 {
		target = uint32(resp.Offset)
	} else {
		target = resp.Current
		if target > n.current {
			slog.Warn("slave log is ahead of local log",
				"slave_current", resp.Current, "current", n.current)
			target = n.current
		}
	}

	n.synced = target
	// the reader has consumed the rejected entry, put it back on synced
	if err := n.log.SeekTo(target); err != nil {
		fatal("seek sync log reader", err)
	}
	slog.Info("set synced offset", "synced", target)
}
