// Package influxdb records Chatgate auth events in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring.
//
// # Schema
//
//	measurement: auth_events
//	tags:        type, reason (when set)
//	fields:      value=1i, user_id, jti, count
//
// Token strings never reach the database; jti is the token id only.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sinks = append(sinks, client) // auth.EventSink
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; batch errors
// are reported through SetOnError.
package influxdb
