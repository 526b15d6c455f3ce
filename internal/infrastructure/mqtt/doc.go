// Package mqtt connects the gateway to an MQTT broker.
//
// It provides:
//   - Connection management with auto-reconnect and tracked subscriptions
//   - Publishing with QoS and size checks
//   - A retained status on wukong/system/status, with an LWT for crashes
//   - Topic builders for the wukong/ hierarchy
//
// The bridge package publishes every accepted property update as retained
// state and serves property writes from the command topics:
//
//	wukong/state/{node}/{object}/{property}    retained JSON value
//	wukong/command/{node}/{object}/{property}  JSON write request
//	wukong/ack/{node}                          command outcome
//	wukong/system/health                       bridge health
//	wukong/system/status                       online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(logger)
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
