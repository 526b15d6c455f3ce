// Package bridge forwards accepted property updates to outbound sinks and
// accepts property writes from MQTT.
//
// # Architecture
//
//	gateway.Client ──Subscribe──▶ Fanout ──queue──▶ worker ─┬─▶ MQTTBridge      (wukong/state/{node}/{object}/{property})
//	                                                         ├─▶ NATSPublisher   (wukong.update.{node}.{object}.{property})
//	                                                         ├─▶ HistoryRecorder (InfluxDB wkpf_property)
//	                                                         └─▶ any other Sink
//
//	MQTT wukong/command/{node}/{object}/{property} ──▶ MQTTBridge ──SetProperty──▶ gateway.Client
//	                                                   ├──▶ wukong/ack/{node}
//	                                                   └──▶ audit.Recorder (when set)
//
// Update handlers run on the transport's receive goroutine, so the Fanout
// only enqueues; a single worker delivers to every sink in tag order. When
// the queue is full the update is dropped and counted.
//
// # Messages
//
// State, ack and health payloads are JSON. Byte-list values are encoded as
// number arrays.
package bridge
