package config

import (
	"encoding/hex"
	"fmt"

	"github.com/multiscale/costeer/pkg/security"
	"github.com/multiscale/costeer/pkg/transport"
)

// NewFabric builds the transport.Fabric this Config's Mode calls for.
// hostname is used for the distributed-mode self-signed certificate's
// common name; it has no effect in single-host mode.
func (c *Config) NewFabric(hostname string) (transport.Fabric, error) {
	switch c.Mode {
	case ModeDistributed:
		key, err := hex.DecodeString(c.PresharedKeyHex)
		if err != nil {
			return nil, fmt.Errorf("config: preshared_key is not valid hex: %w", err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("config: distributed mode requires a preshared_key")
		}
		cert, err := security.GenerateSelfSignedCert(hostname)
		if err != nil {
			return nil, fmt.Errorf("config: generate tls certificate: %w", err)
		}
		return transport.NewSocketFabric(cert, key, c.PortRange.Min, c.PortRange.Max), nil
	case ModeSingleHost, "":
		return transport.NewMemoryFabric(), nil
	default:
		return nil, fmt.Errorf("config: unknown mode %q", c.Mode)
	}
}
