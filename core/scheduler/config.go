package scheduler

import "time"

// Config defines the clock loop parameters.
type Config struct {
	// HorizonDays is how many lighting days ahead the index is populated.
	HorizonDays int `json:"horizon_days"`
	// Timezone is the IANA zone local anchor times are evaluated in.
	Timezone string `json:"timezone"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.HorizonDays == 0 {
		c.HorizonDays = 2
	}
	if c.Timezone == "" {
		c.Timezone = "America/Santo_Domingo"
	}
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
