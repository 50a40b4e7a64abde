// Package mqtt publishes Chatgate session events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained online/offline status with Last Will and Testament
//   - A bounded, non-blocking event queue fed by the auth service
//
// # Topics
//
//	chatgate/system/status         {"status":"online","client_id":...}
//	chatgate/auth/events/<type>    auth.Event as JSON
//
// Events never carry token strings or passwords, only user ids, token ids
// and outcome reasons.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	events := mqtt.NewEventPublisher(client, client.Topics(), client.QoS(), 256, logger)
//	go events.Run(ctx)
//
// The publisher implements auth.EventSink.
package mqtt
