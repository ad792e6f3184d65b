package natmap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// NAT-PMP has no "permanent" lease: a zero lifetime deletes the mapping
// on the wire. Permanent requests substitute this lease instead; the
// periodic rediscovery cycle refreshes it well before expiry.
const pmpDefaultLease = time.Hour

// pmpGateway wraps a NAT-PMP client as a Gateway.
type pmpGateway struct {
	client *natpmp.Client
	ip     net.IP
}

func (g *pmpGateway) Endpoint() string { return g.ip.String() }

func (g *pmpGateway) CreatePortMap(_ context.Context, req MappingRequest) error {
	lease := req.Lease
	if lease <= 0 {
		lease = pmpDefaultLease
	}

	proto := "tcp"
	if req.Protocol == UDP {
		proto = "udp"
	}

	_, err := g.client.AddPortMapping(proto, req.PrivatePort, req.PublicPort, int(lease/time.Second))
	if err != nil {
		return fmt.Errorf("gateway %s: add port mapping %d->%d/%s: %w",
			g.Endpoint(), req.PublicPort, req.PrivatePort, proto, err)
	}
	return nil
}

// natpmpProbe looks for a NAT-PMP capable default gateway. The client
// is validated with a GetExternalAddress round trip so that routers
// without NAT-PMP support are not delivered to subscribers.
func natpmpProbe(timeout time.Duration) (Gateway, error) {
	type result struct {
		ip  net.IP
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ip, err := gateway.DiscoverGateway()
		ch <- result{ip: ip, err: err}
	}()

	var gatewayIP net.IP
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoGateway, res.err)
		}
		gatewayIP = res.ip
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: discovery timeout after %v", ErrNoGateway, timeout)
	}

	client := natpmp.NewClientWithTimeout(gatewayIP, timeout)
	if _, err := client.GetExternalAddress(); err != nil {
		return nil, fmt.Errorf("gateway %s does not speak NAT-PMP: %w", gatewayIP, err)
	}

	return &pmpGateway{client: client, ip: gatewayIP}, nil
}
