// Package natmap discovers NAT gateways on the local network and creates
// port mappings on them over UPnP IGD and NAT-PMP.
package natmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Protocol is a transport protocol for a port mapping.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// ErrNoGateway indicates that no NAT gateway responded to discovery.
var ErrNoGateway = errors.New("natmap: no gateway found")

// MappingRequest describes a port mapping to create on a gateway.
// A zero Lease requests a permanent mapping; protocols that cannot
// express "permanent" on the wire substitute a long lease.
type MappingRequest struct {
	Protocol    Protocol
	PrivatePort int
	PublicPort  int
	Lease       time.Duration
	Description string
}

// Gateway is a discovered NAT device that can hold port mappings.
// Endpoint is stable for the lifetime of the device and is what
// consumers should key dedup state on.
type Gateway interface {
	Endpoint() string
	CreatePortMap(ctx context.Context, req MappingRequest) error
}

// Client discovers gateways and notifies subscribers. The same gateway
// may be delivered more than once; consumers are expected to dedup.
type Client interface {
	StartDiscovery() error
	StopDiscovery() error
	Subscribe(handler func(Gateway)) (unsubscribe func())
}

// localIPFor returns the local interface address that routes to the
// given endpoint. A UDP dial never sends packets, it only resolves the
// route.
func localIPFor(endpoint string) (net.IP, error) {
	conn, err := net.Dial("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve local address for %s: %w", endpoint, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}
