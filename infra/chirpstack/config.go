package chirpstack

// Config defines the connection to the ChirpStack gRPC API and, optionally,
// its MQTT event stream for transmission acks.
type Config struct {
	// Server is the host:port of the ChirpStack gRPC API.
	Server string `json:"server"`
	// APIToken is the bearer token presented on every call.
	APIToken string `json:"api_token"`
	// FPort carries the dimming payloads. The lamp firmware listens on 2.
	FPort int `json:"f_port"`
	// UseTLS enables transport security towards the gRPC API.
	UseTLS bool `json:"use_tls"`

	Events EventsConfig `json:"events"`
}

// EventsConfig defines the MQTT subscription used to confirm that a queued
// downlink was actually transmitted by a gateway. Disabled when Broker is
// empty: enqueue success then counts as delivery.
type EventsConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Topic is the txack event filter.
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.FPort == 0 {
		c.FPort = 2
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "application/+/device/+/event/txack"
	}
	if c.Events.ClientID == "" {
		c.Events.ClientID = "dimmerd"
	}
}

// Enabled reports whether the txack listener is configured.
func (c EventsConfig) Enabled() bool { return c.Broker != "" }
