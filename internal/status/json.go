package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Device        string       `json:"device"`
	Target        string       `json:"target"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker   string `json:"broker"`
	Prefix   string `json:"prefix"`
	HTTPPort string `json:"http_port"`
}

// FormatJSON renders a snapshot as the status JSON document.
func FormatJSON(s Snapshot) []byte {
	doc := StatusJSON{
		Status: StatusInner{
			Device:        s.Device.String(),
			Target:        s.Target.String(),
			UptimeSeconds: int64(s.Uptime() / time.Second),
			StartTime:     s.StartTime.UTC().Format(time.RFC3339),
			Timestamp:     s.Now.UTC().Format(time.RFC3339),
			MQTT: MQTTStatus{
				Connected: s.MQTTConnected,
				Broker:    s.Config.Broker,
			},
			Config: ConfigJSON{
				Broker:   s.Config.Broker,
				Prefix:   s.Config.Prefix,
				HTTPPort: s.Config.HTTPPort,
			},
		},
	}
	if s.Network != nil {
		doc.Status.Network = &NetworkJSON{
			Type:       s.Network.Type,
			IP:         s.Network.IP,
			Status:     s.Network.Status,
			Gateway:    s.Network.Gateway,
			WifiStatus: s.Network.WifiStatus,
			SSID:       s.Network.SSID,
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		// Snapshot contains only marshalable fields; this cannot happen.
		return []byte(`{"status":{}}`)
	}
	return out
}
