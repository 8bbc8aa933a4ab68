package loopback

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the tunables of the in-memory firmware.
type Config struct {
	Network NetworkConfig `yaml:"network"`
}

// NetworkConfig describes the address blocks and transfer limits of the
// firmware network.
type NetworkConfig struct {
	// Address blocks that default addresses are assigned from when a
	// stream child is configured with use-default-address.
	IPv4Prefix string `yaml:"ipv4-prefix"`
	IPv6Prefix string `yaml:"ipv6-prefix"`

	// Ephemeral port range used when a configuration leaves the station
	// port at zero.
	PortMin uint16 `yaml:"port-min"`
	PortMax uint16 `yaml:"port-max"`

	// ReceiveWindow bounds the number of bytes one transmit completion
	// moves, which makes partial sends observable.
	ReceiveWindow int `yaml:"receive-window"`
}

// DefaultConfig returns the configuration used when no file overrides
// it.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			IPv4Prefix:    "10.0.2.0/24",
			IPv6Prefix:    "fd17:625c:f037::/64",
			PortMin:       49152,
			PortMax:       65535,
			ReceiveWindow: 64 * 1024,
		},
	}
}

// LoadConfig reads a YAML configuration file, falling back to the
// defaults when the path is empty or the file does not exist. Values
// absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return config, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("loopback: %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) validate() (prefix4, prefix6 netip.Prefix, err error) {
	prefix4, err = netip.ParsePrefix(c.Network.IPv4Prefix)
	if err != nil {
		return prefix4, prefix6, fmt.Errorf("loopback: ipv4-prefix: %w", err)
	}
	prefix6, err = netip.ParsePrefix(c.Network.IPv6Prefix)
	if err != nil {
		return prefix4, prefix6, fmt.Errorf("loopback: ipv6-prefix: %w", err)
	}
	if !prefix4.Addr().Is4() {
		return prefix4, prefix6, fmt.Errorf("loopback: ipv4-prefix %s is not an IPv4 block", prefix4)
	}
	if prefix6.Addr().Is4() {
		return prefix4, prefix6, fmt.Errorf("loopback: ipv6-prefix %s is not an IPv6 block", prefix6)
	}
	if c.Network.PortMin == 0 || c.Network.PortMin > c.Network.PortMax {
		return prefix4, prefix6, fmt.Errorf("loopback: invalid port range %d-%d", c.Network.PortMin, c.Network.PortMax)
	}
	if c.Network.ReceiveWindow <= 0 {
		return prefix4, prefix6, fmt.Errorf("loopback: receive-window must be positive")
	}
	return prefix4, prefix6, nil
}
