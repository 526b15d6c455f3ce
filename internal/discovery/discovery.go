// Package discovery advertises WKPF devices over mDNS and lets the gateway
// find them.
//
// A device registers a "_wkpf._udp" service whose port is its datagram port.
// TXT records describe the device:
//
//	name=<device name>
//	classes=<registered class count>
//	objects=<object count>
//
// The gateway browses for a bounded window and registers every device found
// in its node directory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	ServiceType = "_wkpf._udp"
	Domain      = "local"

	txtName    = "name"
	txtClasses = "classes"
	txtObjects = "objects"
)

// ErrAdvertiseFailed is returned when the mDNS service cannot be registered.
var ErrAdvertiseFailed = errors.New("discovery: advertise failed")

// Info describes an advertised device.
type Info struct {
	Instance    string
	Name        string
	Port        int
	ClassCount  int
	ObjectCount int
}

// Service is a device found by browsing.
type Service struct {
	Info
	Host      string
	Addresses []string
}

// Address returns "ip:port" for the first known address.
func (s Service) Address() (string, bool) {
	if len(s.Addresses) == 0 {
		return "", false
	}
	return net.JoinHostPort(s.Addresses[0], strconv.Itoa(s.Port)), true
}

// EncodeTXT converts device info to TXT strings.
func EncodeTXT(info Info) []string {
	return []string{
		txtName + "=" + info.Name,
		txtClasses + "=" + strconv.Itoa(info.ClassCount),
		txtObjects + "=" + strconv.Itoa(info.ObjectCount),
	}
}

// DecodeTXT fills Name, ClassCount and ObjectCount from TXT strings.
// Unknown keys are ignored.
func DecodeTXT(txt []string) (Info, error) {
	var info Info
	for _, entry := range txt {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		switch key {
		case txtName:
			info.Name = value
		case txtClasses, txtObjects:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Info{}, fmt.Errorf("discovery: invalid %s %q", key, value)
			}
			if key == txtClasses {
				info.ClassCount = n
			} else {
				info.ObjectCount = n
			}
		}
	}
	return info, nil
}

// Advertiser publishes one device over mDNS.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
	ifaces []net.Interface
}

// NewAdvertiser creates an advertiser. An empty interface name advertises
// on all interfaces.
func NewAdvertiser(iface string) (*Advertiser, error) {
	a := &Advertiser{}
	if iface != "" {
		i, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %q: %w", ErrAdvertiseFailed, iface, err)
		}
		a.ifaces = []net.Interface{*i}
	}
	return a, nil
}

// Advertise registers the service, replacing any earlier registration.
func (a *Advertiser) Advertise(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instance := info.Instance
	if instance == "" {
		instance = info.Name
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, info.Port, EncodeTXT(info), a.ifaces)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAdvertiseFailed, err)
	}
	a.server = server
	return nil
}

// Update replaces the TXT records of the running registration.
func (a *Advertiser) Update(info Info) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.SetText(EncodeTXT(info))
	}
}

// Stop withdraws the service.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browser finds advertised devices.
type Browser struct {
	ifaces []net.Interface
}

// NewBrowser creates a browser. An empty interface name browses on all
// interfaces.
func NewBrowser(iface string) (*Browser, error) {
	b := &Browser{}
	if iface != "" {
		i, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("discovery: interface %q: %w", iface, err)
		}
		b.ifaces = []net.Interface{*i}
	}
	return b, nil
}

// Browse collects devices for the given window. Entries for the same
// instance seen on several interfaces are merged.
func (b *Browser) Browse(ctx context.Context, window time.Duration) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if len(b.ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(b.ifaces))
	}

	errc := make(chan error, 1)
	go func(entries, removed chan *zeroconf.ServiceEntry) {
		errc <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}(entries, removed)

	found := make(map[string]*Service)
	var order []string
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			svc, err := entryToService(entry)
			if err != nil {
				continue
			}
			if existing, ok := found[svc.Instance]; ok {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			found[svc.Instance] = &svc
			order = append(order, svc.Instance)

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			delete(found, entry.Instance)

		case <-ctx.Done():
			out := make([]Service, 0, len(found))
			for _, name := range order {
				if svc, ok := found[name]; ok {
					out = append(out, *svc)
				}
			}
			if err := drain(entries, removed, errc); err != nil &&
				!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				return out, fmt.Errorf("discovery: browse: %w", err)
			}
			return out, nil
		}
	}
}

// drain discards late entries until the browse goroutine returns.
func drain(entries, removed <-chan *zeroconf.ServiceEntry, errc <-chan error) error {
	for {
		select {
		case _, ok := <-entries:
			if !ok {
				entries = nil
			}
		case _, ok := <-removed:
			if !ok {
				removed = nil
			}
		case err := <-errc:
			return err
		}
	}
}

func entryToService(entry *zeroconf.ServiceEntry) (Service, error) {
	info, err := DecodeTXT(entry.Text)
	if err != nil {
		return Service{}, err
	}
	info.Instance = entry.Instance
	info.Port = entry.Port

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return Service{Info: info, Host: entry.HostName, Addresses: addrs}, nil
}

func mergeAddresses(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, addr := range a {
		seen[addr] = true
	}
	for _, addr := range b {
		if !seen[addr] {
			a = append(a, addr)
			seen[addr] = true
		}
	}
	return a
}
