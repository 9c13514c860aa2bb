package nats

import (
	"context"
	"time"

	"github.com/meridianhq/pubsub/internal/health"
)

// ConnectionChecker reports the broker connection's health.
type ConnectionChecker struct {
	conn *Connection
}

// NewConnectionChecker constructs a ConnectionChecker bound to conn.
func NewConnectionChecker(conn *Connection) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Check(_ context.Context) health.ComponentStatus {
	status := health.StatusOK
	detail := ""
	if !c.conn.IsConnected() {
		status = health.StatusUnhealthy
		detail = "not connected to broker"
	}
	return health.ComponentStatus{Name: "connection", Status: status, Detail: detail, CheckedAt: time.Now()}
}
