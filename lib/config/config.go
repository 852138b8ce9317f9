// Package config loads the environment-backed defaults for the
// camstream binaries. CLI arguments override whatever is set here.
package config

import (
	"github.com/caarlos0/env/v9"
	"github.com/rotisserie/eris"
)

// Config holds the settings for both binaries.
type Config struct {
	Server Server
	Client Client
}

// Server configures cmd/camserver.
type Server struct {
	Port int `env:"CAMSTREAM_PORT" envDefault:"32123"`
}

// Client configures cmd/camclient.
type Client struct {
	Address  string `env:"CAMSTREAM_ADDRESS" envDefault:"127.0.0.1"`
	Port     int    `env:"CAMSTREAM_PORT" envDefault:"32123"`
	Device   string `env:"CAMSTREAM_DEVICE" envDefault:"/dev/video0"`
	Snapshot string `env:"CAMSTREAM_SNAPSHOT" envDefault:"frame.jpg"`
}

// New parses the process environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, eris.Wrap(err, "failed to parse environment")
	}
	return cfg, nil
}
