package replication

import "context"

// AppendLogRequest carries one log entry to the slave. Offset is the
// position the entry must land at in the slave's log.
type AppendLogRequest struct {
	Offset  uint32 `json:"offset"`
	LogData []byte `json:"log_data"`
}

// AppendLogResponse reports the slave's verdict. On a rejection, Offset
// is the slave's append position when the master is ahead of it, and -1
// when the request is stale. Current always carries the slave's append
// position so a freshly promoted master can fast-forward instead of
// re-sending a prefix the slave already has.
type AppendLogResponse struct {
	Success bool   `json:"success"`
	Offset  int64  `json:"offset"`
	Current uint32 `json:"current"`
}

// Transport delivers AppendLog requests to the peer. Rebind repoints it
// at a new peer after takeover.
type Transport interface {
	AppendLog(ctx context.Context, req AppendLogRequest) (AppendLogResponse, error)
	Rebind(addr string)
}
