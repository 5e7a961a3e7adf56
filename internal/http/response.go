package http

// Status tags every envelope from the ops surface.
type Status string

const (
	// StatusOK answers health checks.
	StatusOK Status = "OK"

	// StatusLogged acknowledges a write: the entry is durable locally.
	// Whether the slave has it too is what MasterOnly tells.
	StatusLogged Status = "logged"

	// StatusError carries a failure message.
	StatusError Status = "error"
)

// Response is the envelope of the health, write and promotion endpoints
// and of every error answer; /api/status answers with the replication
// status snapshot itself. A write acknowledgement carries the degraded-mode flag so callers can tell a
// replicated ack from a local-only one; a promotion answer carries the
// node's resulting role.
type Response struct {
	Status     Status `json:"status"`
	MasterOnly bool   `json:"master_only,omitempty"`
	Role       string `json:"role,omitempty"`
	Error      string `json:"error,omitempty"`
}

func okResponse() Response {
	return Response{Status: StatusOK}
}

func loggedResponse(masterOnly bool) Response {
	return Response{Status: StatusLogged, MasterOnly: masterOnly}
}

func promotedResponse(role string) Response {
	return Response{Status: StatusOK, Role: role}
}

func errorResponse(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}
