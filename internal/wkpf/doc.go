// Package wkpf implements the WuKong Property Framework protocol core.
//
// A device hosts objects. Each object is an instance of a class, and each
// class declares an ordered list of typed property slots. Peers address a
// property by (node, object, property index) and exchange small datagrams:
//
//	┌─────────┐  GET_REQUEST / SET_REQUEST   ┌──────────────────────────┐
//	│ Gateway │ ───────────────────────────► │ Dispatcher → ObjectTable │
//	│         │ ◄─────────────────────────── │        → Behavior        │
//	└─────────┘  GET_RESPONSE / SET_ACK      └──────────────────────────┘
//	             PROPERTY_UPDATE (unsolicited)
//
// # Wire Format
//
// Every datagram starts with a 6-byte header:
//
//	[seq:2][kind:1][objectID:1][propertyIndex:1][payloadLength:1][payload:N]
//
// Property values travel as a one-byte type tag followed by the value
// encoding: fixed-width big-endian scalars, or a one-byte count followed by
// fixed-width elements for lists. An error response uses the normal
// response kind with payloadLength 0 and a single error-code byte.
//
// # Device Side
//
//	reg := wkpf.NewClassRegistry()
//	reg.Register(1, "ArrayRx", []wkpf.Slot{
//	    {Index: 0, Name: "array", Type: wkpf.TypeByteList, Access: wkpf.ReadWrite},
//	}, nil)
//	reg.Seal()
//
//	table := wkpf.NewObjectTable(reg)
//	id, _ := table.AddObject(1)
//
//	d, _ := wkpf.NewDispatcher(reg, table, wkpf.DispatcherOptions{})
//	reply := d.Handle(datagram) // nil when nothing is due
//
// Malformed datagrams are dropped without a reply. Requests that name an
// unknown object or property, or that violate a slot's access mode, are
// answered with an error response carrying the same sequence number.
package wkpf
