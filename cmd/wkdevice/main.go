// wkdevice is an example WuKong device. It hosts one object per class of
// its class library (the built-in library holds ArrayRx), announces itself
// to the gateway and serves property reads and writes over UDP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wukong-iot/wkpf-gateway/internal/device"
	"github.com/wukong-iot/wkpf-gateway/internal/discovery"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/config"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/logging"
	"github.com/wukong-iot/wkpf-gateway/internal/transport"
)

var version = "dev"

const defaultGatewayPort = 5775

var errUsage = errors.New("invalid arguments")

// options are the parsed command line.
type options struct {
	gatewayAddr string
	listenAddr  string
	name        string
	classes     string
	advertise   bool
	iface       string
	logLevel    string
	announce    time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	var gatewayPort int

	cmd := &cobra.Command{
		Use:   "wkdevice <gateway-ip> <ip:port>",
		Short: "Run an example WuKong device",
		Long: `wkdevice hosts WKPF objects on <ip:port> and announces itself to the
gateway at <gateway-ip>. Without --classes it hosts a single ArrayRx object
that logs every byte array written to it.`,
		Version:       version,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 { //nolint:mnd // gateway and listen address
				return fmt.Errorf("%w: expected <gateway-ip> <ip:port>, got %d argument(s)", errUsage, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			gatewayAddr, listenAddr, err := parseAddresses(args[0], args[1], gatewayPort)
			if err != nil {
				return err
			}
			opts.gatewayAddr, opts.listenAddr = gatewayAddr, listenAddr
			if opts.name == "" {
				opts.name = "wkdevice-" + listenAddr
			}
			// Usage has been validated; runtime failures are not usage errors.
			cmd.SilenceUsage = true
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.classes, "classes", "", "class library YAML file (default: built-in ArrayRx)")
	flags.BoolVar(&opts.advertise, "advertise", false, "advertise the device over mDNS")
	flags.StringVar(&opts.iface, "iface", "", "network interface for mDNS (default: all)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.name, "name", "", "device name (default: wkdevice-<ip:port>)")
	flags.IntVar(&gatewayPort, "gateway-port", defaultGatewayPort, "gateway UDP port")
	flags.DurationVar(&opts.announce, "announce-interval", 5*time.Second, "delay between unacknowledged announcements")

	return cmd
}

// parseAddresses validates the positional arguments.
func parseAddresses(gatewayIP, listen string, gatewayPort int) (string, string, error) {
	if net.ParseIP(gatewayIP) == nil {
		return "", "", fmt.Errorf("%w: gateway %q is not an IP address", errUsage, gatewayIP)
	}
	if gatewayPort < 1 || gatewayPort > 65535 {
		return "", "", fmt.Errorf("%w: gateway port %d out of range", errUsage, gatewayPort)
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", "", fmt.Errorf("%w: listen address %q: %w", errUsage, listen, err)
	}
	if net.ParseIP(host) == nil {
		return "", "", fmt.Errorf("%w: listen host %q is not an IP address", errUsage, host)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return "", "", fmt.Errorf("%w: listen port %q out of range", errUsage, port)
	}

	return net.JoinHostPort(gatewayIP, strconv.Itoa(gatewayPort)), listen, nil
}

// run hosts the device until ctx is cancelled.
func run(ctx context.Context, opts options) error {
	log := logging.New(config.LoggingConfig{Level: opts.logLevel, Format: "text", Output: "stderr"}, version).
		With("device", opts.name)

	lib := device.DefaultLibrary()
	if opts.classes != "" {
		loaded, err := device.LoadLibrary(opts.classes)
		if err != nil {
			return err
		}
		lib = loaded
	}

	rt, err := device.New(device.Config{
		Name:             opts.name,
		GatewayAddress:   opts.gatewayAddr,
		AnnounceInterval: opts.announce,
	}, log)
	if err != nil {
		return err
	}
	if err := rt.LoadLibrary(lib, device.DefaultBehaviors(log)); err != nil {
		return err
	}
	for _, c := range lib.Classes {
		if _, err := rt.AddObject(c.ID); err != nil {
			return fmt.Errorf("adding %s object: %w", c.Name, err)
		}
	}

	udp, err := transport.ListenUDP(transport.UDPConfig{ListenAddress: opts.listenAddr})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", opts.listenAddr, err)
	}
	udp.SetLogger(log.With("component", "transport"))

	if opts.advertise {
		stop, err := advertise(opts, udp.LocalAddr(), len(lib.Classes))
		if err != nil {
			udp.Close() //nolint:errcheck // error path
			return err
		}
		defer stop()
		log.Info("advertising over mDNS", "service", discovery.ServiceType)
	}

	return rt.Run(ctx, udp)
}

// advertise registers the device's _wkpf._udp service and returns the
// function withdrawing it.
func advertise(opts options, localAddr string, classes int) (func(), error) {
	_, portStr, err := net.SplitHostPort(localAddr)
	if err != nil {
		return nil, fmt.Errorf("local address %q: %w", localAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("local port %q: %w", portStr, err)
	}

	adv, err := discovery.NewAdvertiser(opts.iface)
	if err != nil {
		return nil, err
	}
	err = adv.Advertise(discovery.Info{
		Name:        opts.name,
		Port:        port,
		ClassCount:  classes,
		ObjectCount: classes,
	})
	if err != nil {
		return nil, err
	}
	return adv.Stop, nil
}
