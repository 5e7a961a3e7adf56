package replication

import "log/slog"

// AppendLog is the slave half of the replication RPC. The offset must
// equal current exactly: an offset ahead of current means the master
// must rewind, an offset behind means the request is stale and the
// bytes are already here. Accepted entries are applied in-line, so on
// the slave current, applied and synced always move together.
//
// The master keeps a single request in flight, which serializes the
// stream; the node mutex covers the rest.
func (n *Node) AppendLog(req AppendLogRequest) AppendLogResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Offset > n.current {
		return AppendLogResponse{Success: false, Offset: int64(n.current), Current: n.current}
	}
	if req.Offset < n.current {
		slog.Info("stale append request", "offset", req.Offset, "current", n.current)
		return AppendLogResponse{Success: false, Offset: -1, Current: n.current}
	}

	length := n.appendLocked(req.LogData)
	n.applyFn(req.LogData)
	n.current += length
	n.applied = n.current
	n.synced = n.current

	return AppendLogResponse{Success: true, Offset: int64(n.current), Current: n.current}
}
