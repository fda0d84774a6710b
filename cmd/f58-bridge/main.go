// Command f58-bridge supervises a Flair 58 espresso heater over GPIO and
// bridges it to MQTT: it classifies the level LEDs into a device state,
// pulses the power button to reach the commanded target, and keeps a broker
// session for commands, state and logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/f58-bridge/internal/config"
	"github.com/sweeney/f58-bridge/internal/device"
	"github.com/sweeney/f58-bridge/internal/gpio"
	"github.com/sweeney/f58-bridge/internal/logic"
	"github.com/sweeney/f58-bridge/internal/mlog"
	"github.com/sweeney/f58-bridge/internal/mqtt"
	"github.com/sweeney/f58-bridge/internal/socket"
	"github.com/sweeney/f58-bridge/internal/status"
	"github.com/sweeney/f58-bridge/internal/web"
)

func main() {
	broker := flag.String("broker", "", "MQTT broker endpoint as ipv4addr:port (default $"+config.EnvEndpoint+")")
	prefix := flag.String("prefix", "", "MQTT topic prefix (default $"+config.EnvPrefix+" or \""+config.DefaultPrefix+"\")")
	pinLow := flag.Int("pin-low", gpio.DefaultPinLedLow, "BCM pin number for the low LED")
	pinMedium := flag.Int("pin-medium", gpio.DefaultPinLedMedium, "BCM pin number for the medium LED")
	pinHigh := flag.Int("pin-high", gpio.DefaultPinLedHigh, "BCM pin number for the high LED")
	pinButton := flag.Int("pin-button", gpio.DefaultPinButton, "BCM pin number for the power button")
	printState := flag.Bool("print-state", false, "Sample the LEDs, print the classified state and exit")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")

	flag.Parse()

	if err := run(*broker, *prefix, *pinLow, *pinMedium, *pinHigh, *pinButton, *printState, *httpAddr); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(broker, prefix string, pinLow, pinMedium, pinHigh, pinButton int, printState bool, httpAddr string) error {
	leds, err := gpio.NewRealLedReader(pinLow, pinMedium, pinHigh)
	if err != nil {
		return fmt.Errorf("init led gpio: %w", err)
	}
	defer leds.Close()

	// Print state mode: observe for long enough to tell steady from blinking.
	if printState {
		state, err := sampleState(leds)
		if err != nil {
			return fmt.Errorf("read leds: %w", err)
		}
		fmt.Println(state)
		return nil
	}

	cfg, err := config.Resolve(broker, prefix)
	if err != nil {
		return err
	}

	button, err := gpio.NewRealButton(pinButton)
	if err != nil {
		return fmt.Errorf("init button gpio: %w", err)
	}
	defer button.Close()

	tracker := device.NewTracker()
	targets := device.NewTargetStore()
	logs := mlog.NewQueue(mlog.DefaultCapacity)

	statusTracker := status.NewTracker(time.Now(), status.Config{
		Broker:   cfg.Broker.String(),
		Prefix:   cfg.Prefix,
		HTTPPort: httpAddr,
	})
	if info := readNetworkInfo(); info != nil {
		statusTracker.SetNetwork(info)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The broker is unreachable until the network is configured; waiting here
	// keeps the first session ticks from burning through pointless dials.
	addr, err := waitNetworkUp(ctx)
	if err != nil {
		return err
	}
	log.Printf("network up, local address %s", addr)
	logs.Printf("The device has started. Address: %s", addr)

	if httpAddr != "" {
		srv := web.New(httpAddr, statusTracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	sock := socket.New(nil)
	session := &mqtt.Session{
		Socket:   sock,
		Client:   mqtt.NewClient(socket.NewAdapter(sock, cfg.Broker), cfg.Broker, cfg.ClientID),
		Endpoint: cfg.Broker,
		Topics:   cfg.Topics,
		Tracker:  tracker,
		Targets:  targets,
		Logs:     logs,
		Status:   statusTracker,
	}
	monitor := &device.Monitor{Leds: leds, Tracker: tracker}
	actuator := &device.Actuator{Button: button, Tracker: tracker, Targets: targets, Logs: logs}

	log.Printf("started: broker=%s prefix=%s", cfg.Broker, cfg.Prefix)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return actuator.Run(ctx) })
	g.Go(func() error { return session.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("shutting down")
	return nil
}

// sampleState watches the LEDs for two blink windows so a blinking line has
// toggled at least once, then classifies what it saw.
func sampleState(leds gpio.LedReader) (logic.DeviceState, error) {
	tracker := device.NewTracker()
	monitor := &device.Monitor{Leds: leds, Tracker: tracker}

	deadline := time.Now().Add(2*logic.BlinkWindow + logic.PollPeriod)
	for time.Now().Before(deadline) {
		if err := monitor.Sample(); err != nil {
			return logic.DeviceState{}, err
		}
		time.Sleep(logic.PollPeriod)
	}
	return tracker.Classify(time.Now()), nil
}

// waitNetworkUp blocks until some interface carries a usable unicast IPv4
// address, and returns it. On the Pi this covers the window between boot and
// DHCP finishing.
func waitNetworkUp(ctx context.Context) (netip.Addr, error) {
	for tries := 0; ; tries++ {
		addrs, err := net.InterfaceAddrs()
		if err == nil {
			if addr, ok := firstIPv4(addrs); ok {
				return addr, nil
			}
		}
		if tries%10 == 0 {
			log.Printf("waiting for the network to come up")
		}
		select {
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// firstIPv4 picks the first non-loopback unicast IPv4 address.
func firstIPv4(addrs []net.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip4)
		if !ok || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
