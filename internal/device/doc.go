// Package device runs a WuKong device: a node that hosts WKPF objects,
// announces itself to a gateway and answers property reads and writes.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                        Runtime                           │
//	│                                                          │
//	│  ┌────────────────┐   ┌────────────────┐                 │
//	│  │ ClassRegistry  │   │  ObjectTable   │                 │
//	│  │ (library.go)   │──▶│ (wkpf objects) │──▶ reports      │
//	│  └────────────────┘   └────────────────┘                 │
//	│           │                    ▲                         │
//	│           ▼                    │                         │
//	│  ┌──────────────────────────────────────┐                │
//	│  │         wkpf.Dispatcher              │◀── datagrams   │
//	│  └──────────────────────────────────────┘                │
//	└──────────────────────────────────────────────────────────┘
//
// Classes come from a YAML class library (LoadLibrary) or from
// DefaultLibrary, which holds the ArrayRx class. Behaviors map a class to
// the code run when one of its properties is written.
//
// # Usage
//
//	rt, err := device.New(device.Config{
//	    Name:           "bench-1",
//	    GatewayAddress: "10.0.0.1:5775",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	lib := device.DefaultLibrary()
//	if err := rt.LoadLibrary(lib, device.DefaultBehaviors(logger)); err != nil {
//	    return err
//	}
//	rt.AddObject(lib.Classes[0].ID)
//	return rt.Run(ctx, udp)
package device
