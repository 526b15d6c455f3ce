// Package gateway implements the gateway side of the WuKong Property
// Framework: the comm client that applications use to reach device
// properties.
//
// # Request Flow
//
//	caller ── GetProperty(node, port, object, property)
//	   │
//	   ├─ Directory: node ID → "host:port"
//	   ├─ pending table: (addr, seq) → response channel
//	   ├─ Transport.Send(GET_REQUEST)
//	   └─ wait: response │ deadline │ ctx
//
// Each call sends once and reports ErrTimeout when the deadline passes. A
// RetryPolicy may be configured to resend timed-out requests with a fresh
// sequence number. Error responses from the device surface as
// *RemoteError, which unwraps to the matching wkpf sentinel, so a lost
// datagram (ErrTimeout) is always distinguishable from a rejection.
//
// # Notifications
//
// PROPERTY_UPDATE datagrams are deduplicated by (sender address, seq)
// within a window, stamped with a strictly increasing delivery tag and
// fanned out to subscribers registered with Client.Subscribe.
//
// # Nodes and the Controller
//
// Devices announce themselves with NODE_ANNOUNCE; the client registers the
// sender in the Directory and acknowledges with the assigned node ID. A
// Controller drives the locally attached controller's add/stop/reset
// commands and lets callers wait for status lines without polling.
package gateway
