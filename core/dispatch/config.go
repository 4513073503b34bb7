package dispatch

import "fmt"

// Config defines delivery and retry parameters.
type Config struct {
	// MaxAttempts is the retry ceiling per fire, including the first try.
	MaxAttempts int `json:"max_attempts"`
	// BackoffMS is the initial retry delay; it doubles per attempt.
	BackoffMS int `json:"backoff_ms"`
	// BackoffMaxMS caps the exponential backoff.
	BackoffMaxMS int `json:"backoff_max_ms"`
	// AckTimeoutSeconds bounds the wait for a gateway tx ack per attempt.
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	// SendTimeoutSeconds bounds one network-server call.
	SendTimeoutSeconds int `json:"send_timeout_seconds"`
	// RatePerSecond paces downlink sends on the shared network-server
	// connection. Zero disables pacing.
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 500
	}
	if c.BackoffMaxMS == 0 {
		c.BackoffMaxMS = 30000
	}
	if c.AckTimeoutSeconds == 0 {
		c.AckTimeoutSeconds = 10
	}
	if c.SendTimeoutSeconds == 0 {
		c.SendTimeoutSeconds = 10
	}
	if c.RateBurst == 0 {
		c.RateBurst = 1
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.BackoffMS < 0 || c.BackoffMaxMS < c.BackoffMS {
		return fmt.Errorf("invalid backoff window [%d, %d]", c.BackoffMS, c.BackoffMaxMS)
	}
	return nil
}
