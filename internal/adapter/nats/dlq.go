package nats

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/meridianhq/pubsub/internal/config"
	"github.com/meridianhq/pubsub/internal/pubsub"
)

// Header names stamped on a dead-lettered message (§6's broker wire
// contract for the DLQ).
const (
	HeaderDeadLetter = "x-dead-letter"
	HeaderDLQReason  = "x-dlq-reason"
	HeaderDLQError   = "x-dlq-error"
	HeaderDeliveries = "x-deliveries"
	HeaderEventID    = "x-event-id"
	HeaderTraceID    = "x-trace-id"
)

// DLQHandler republishes an exhausted or unprocessable message onto its
// env/app's dead-letter subject (§4.8).
type DLQHandler struct {
	conn    *Connection
	cfg     config.Engine
	metrics pubsub.Metrics // optional
}

// NewDLQHandler constructs a DLQHandler bound to conn. metrics may be nil.
func NewDLQHandler(conn *Connection, cfg config.Engine, metrics pubsub.Metrics) *DLQHandler {
	return &DLQHandler{conn: conn, cfg: cfg, metrics: metrics}
}

// Send republishes msg's raw payload onto {env}.{app}.dlq with headers
// recording why it was dead-lettered (reason, one of §3's DLQRecord reason
// values), the triggering error's message, how many times it was
// delivered, and its event_id/trace_id when the envelope decoded cleanly.
// cause may be nil only when the caller has no single triggering error to
// report. If the original payload fails to decode as an envelope at all,
// the raw bytes are carried base64-encoded instead of risking a non-UTF8
// body.
func (h *DLQHandler) Send(ctx context.Context, msg jetstream.Msg, reason string, cause error) error {
	meta, _ := msg.Metadata()

	headers := map[string]string{
		HeaderDeadLetter: "true",
		HeaderDLQReason:  reason,
		HeaderDeliveries: strconv.FormatUint(meta.NumDelivered, 10),
	}
	if cause != nil {
		headers[HeaderDLQError] = cause.Error()
	}

	payload := msg.Data()
	if env, err := pubsub.Decode(payload, false); err == nil {
		headers[HeaderEventID] = env.EventID
		headers[HeaderTraceID] = env.TraceID
	} else {
		payload = []byte(base64.StdEncoding.EncodeToString(payload))
	}

	parsed, err := pubsub.ParseSubject(msg.Subject())
	if err != nil {
		return fmt.Errorf("%w: %v", pubsub.ErrDLQError, err)
	}
	dlqSubject := pubsub.DLQSubject(parsed.Env, parsed.App)

	out := &nats.Msg{Subject: dlqSubject, Data: payload, Header: nats.Header{}}
	for k, v := range headers {
		out.Header.Set(k, v)
	}

	if _, err := h.conn.JetStream().PublishMsg(ctx, out); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", pubsub.ErrDLQError, dlqSubject, err)
	}
	if h.metrics != nil {
		h.metrics.IncDLQ(msg.Subject(), reason)
	}
	return nil
}
