package loopback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/efibridge/efibridge/internal/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	assert.OK(t, err)
	assert.Equal(t, config, DefaultConfig())
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.OK(t, err)
	assert.Equal(t, config, DefaultConfig())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
network:
  ipv4-prefix: 192.168.0.0/16
  receive-window: 1024
`
	assert.OK(t, os.WriteFile(path, []byte(data), 0666))

	config, err := LoadConfig(path)
	assert.OK(t, err)
	assert.Equal(t, config.Network.IPv4Prefix, "192.168.0.0/16")
	assert.Equal(t, config.Network.ReceiveWindow, 1024)
	// Values absent from the file keep their defaults.
	assert.Equal(t, config.Network.IPv6Prefix, DefaultConfig().Network.IPv6Prefix)
	assert.Equal(t, config.Network.PortMin, DefaultConfig().Network.PortMin)
}

func TestLoadConfigRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.OK(t, os.WriteFile(path, []byte("network: ["), 0666))

	_, err := LoadConfig(path)
	assert.True(t, err != nil, "malformed configuration must be rejected")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		scenario string
		mutate   func(*Config)
	}{
		{
			scenario: "ipv4 prefix is not parseable",
			mutate:   func(c *Config) { c.Network.IPv4Prefix = "nope" },
		},
		{
			scenario: "ipv4 prefix holds an ipv6 block",
			mutate:   func(c *Config) { c.Network.IPv4Prefix = "fd00::/64" },
		},
		{
			scenario: "ipv6 prefix holds an ipv4 block",
			mutate:   func(c *Config) { c.Network.IPv6Prefix = "10.0.0.0/8" },
		},
		{
			scenario: "port range is inverted",
			mutate: func(c *Config) {
				c.Network.PortMin = 60000
				c.Network.PortMax = 50000
			},
		},
		{
			scenario: "receive window is zero",
			mutate:   func(c *Config) { c.Network.ReceiveWindow = 0 },
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			config := DefaultConfig()
			test.mutate(&config)
			_, err := New(config)
			assert.True(t, err != nil, "invalid configuration must be rejected")
		})
	}
}
