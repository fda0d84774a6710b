// Package config resolves the daemon configuration once at startup. After
// Load returns, the values are immutable for the life of the process;
// anything malformed is a startup error, never a runtime one.
package config

import (
	"fmt"
	"net/netip"
	"os"
)

// Environment variables honored as fallbacks for the corresponding flags.
// These match the build-time variables of the original firmware.
const (
	EnvEndpoint = "F58_MQTT_ENDPOINT" // a.b.c.d:port of the MQTT broker
	EnvPrefix   = "F58_MQTT_PREFIX"   // topic prefix, defaults to "f58"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "f58"

// Topics holds the fully resolved MQTT topic names.
type Topics struct {
	Set   string // inbound: off|low|medium|high
	Cmd   string // inbound: ping <payload> recognized
	Log   string // outbound: free-form log lines
	State string // outbound, retained: current device state
}

// TopicsFor derives the four topic names from a prefix.
func TopicsFor(prefix string) Topics {
	return Topics{
		Set:   prefix + "/set",
		Cmd:   prefix + "/cmd",
		Log:   prefix + "/log",
		State: prefix + "/state",
	}
}

// Config is the resolved daemon configuration.
type Config struct {
	// Broker is the IPv4 endpoint of the MQTT broker.
	Broker netip.AddrPort
	// Prefix is the topic prefix, Topics the names derived from it.
	Prefix string
	Topics Topics
	// ClientID identifies this daemon to the broker.
	ClientID string
}

// Resolve validates the raw endpoint and prefix (flag values, with the F58_*
// environment variables as fallbacks for empty ones) into a Config.
func Resolve(endpoint, prefix string) (Config, error) {
	if endpoint == "" {
		endpoint = os.Getenv(EnvEndpoint)
	}
	if endpoint == "" {
		return Config{}, fmt.Errorf("no broker endpoint: set -broker or $%s to ipv4addr:port", EnvEndpoint)
	}
	broker, err := ParseEndpoint(endpoint)
	if err != nil {
		return Config{}, fmt.Errorf("broker endpoint %q: %w", endpoint, err)
	}

	if prefix == "" {
		prefix = os.Getenv(EnvPrefix)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return Config{
		Broker:   broker,
		Prefix:   prefix,
		Topics:   TopicsFor(prefix),
		ClientID: "f58mqtt",
	}, nil
}

// ParseEndpoint parses an a.b.c.d:port broker endpoint. Only literal IPv4 is
// accepted: the session loop pins the adapter to one concrete endpoint, so
// there is no place for name resolution to change it later.
func ParseEndpoint(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("not an IPv4 address: %s", ap.Addr())
	}
	if ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("port must be non-zero")
	}
	return ap, nil
}
