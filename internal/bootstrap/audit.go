package bootstrap

import "context"

// AuditLog records an operational event worth keeping outside the request
// log stream: a leave decision, a balance credit, a server shutdown. Actor
// is who did it, Subject is what it was done to.
type AuditLog struct {
	Action  string
	Actor   string
	Subject string
	Message string
	Meta    map[string]any
}

type AuditLogger interface {
	Log(ctx context.Context, entry AuditLog)
}
