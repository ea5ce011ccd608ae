package transport

import (
	"net"
	"strconv"

	bsperrors "github.com/uber/bsp-go/src/bsp/internal/errors"
)

// EndpointConfig is the YAML shape of an endpoint in service configuration.
type EndpointConfig struct {
	Kind    Kind   `yaml:"kind" json:"kind"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// Endpoint converts the configured values into a typed Endpoint.
func (c EndpointConfig) Endpoint() (Endpoint, error) {
	switch c.Kind {
	case KindTCP:
		host, portStr, err := net.SplitHostPort(c.Address)
		if err != nil {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: c.Address, Err: err}
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: c.Address, Err: err}
		}
		return TCP{Host: host, Port: port}, nil
	case KindSocket:
		if c.Path == "" {
			return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: "socket://"}
		}
		return Socket{Path: c.Path}, nil
	default:
		return nil, &bsperrors.TransportError{Kind: bsperrors.TransportMalformedAddress, Endpoint: string(c.Kind)}
	}
}
