// Package htsp is the public entry point: Config and Supervisor compose
// wire/conn/dispatch/auth/subscription into the single-connection HTSP
// client of spec §4.I. Grounded on the teacher's own top-level config
// pattern (jsoniter-tagged struct with a setDefaults pass) and on
// github.com/cenkalti/backoff/v4 for the Supervisor's reconnect loop
// (backoff is carried from the rest of the
// retrieval pack — moby-moby's go.mod — since the teacher itself never
// needed a client-side reconnect policy).
package htsp

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ReconnectBackoff configures the exponential backoff the Supervisor
// applies between reconnect attempts (spec §6 Configuration).
type ReconnectBackoff struct {
	InitialMs int64   `json:"initialMs"`
	MaxMs     int64   `json:"maxMs"`
	Jitter    float64 `json:"jitter"`
}

// Config is the recognized configuration surface of spec §6.
type Config struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`

	Username string `json:"username"`
	Password string `json:"password"`

	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`

	ConnectTimeoutMs int64 `json:"connectTimeoutMs"`
	ReplyTimeoutMs   int64 `json:"replyTimeoutMs"`

	ReconnectBackoff ReconnectBackoff `json:"reconnectBackoff"`

	HTSPVersion int64 `json:"htspVersion"`
}

// setDefaults fills in the spec §6 defaults for any zero-valued field a
// caller left unset, mirroring the teacher's own config-loading idiom of
// a dedicated defaulting pass rather than struct-tag defaults.
func (c *Config) setDefaults() {
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = 5000
	}
	if c.ReplyTimeoutMs == 0 {
		c.ReplyTimeoutMs = 5000
	}
	if c.ReconnectBackoff.InitialMs == 0 {
		c.ReconnectBackoff.InitialMs = 1000
	}
	if c.ReconnectBackoff.MaxMs == 0 {
		c.ReconnectBackoff.MaxMs = 30000
	}
	if c.HTSPVersion == 0 {
		c.HTSPVersion = 27
	}
}

// validate reports the config fields the Supervisor cannot operate
// without (spec §6: hostname, port 1..65535). Called by both ParseConfig
// and htsp.New, so a programmatically constructed Config is checked the
// same as one loaded from JSON.
func (c *Config) validate() error {
	if c.Hostname == "" {
		return errors.New("htsp: config: hostname is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("htsp: config: port %d out of range 1..65535", c.Port)
	}
	return nil
}

// ParseConfig decodes JSON configuration via jsoniter (the teacher's own
// choice of JSON library throughout its config/debug paths) and applies
// defaults.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "htsp: parse config")
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
