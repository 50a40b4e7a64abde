package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// authEventMeasurement is the measurement holding one point per auth event.
const authEventMeasurement = "auth_events"

// WriteAuthEvent records e as a point in the auth_events measurement.
//
// Tags hold the low-cardinality event type and reason; user and token ids
// are fields. The write is non-blocking; data is batched and sent
// asynchronously.
func (c *Client) WriteAuthEvent(e auth.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(e))
}

// Record implements auth.EventSink.
func (c *Client) Record(_ context.Context, e auth.Event) {
	c.WriteAuthEvent(e)
}

// authEventPoint converts an event to a point.
func authEventPoint(e auth.Event) *write.Point {
	tags := map[string]string{"type": string(e.Type)}
	if e.Reason != "" {
		tags["reason"] = e.Reason
	}

	fields := map[string]interface{}{"value": int64(1)}
	if e.UserID != 0 {
		fields["user_id"] = e.UserID
	}
	if e.JTI != "" {
		fields["jti"] = e.JTI
	}
	if e.Count != 0 {
		fields["count"] = e.Count
	}

	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(authEventMeasurement, tags, fields, ts)
}
