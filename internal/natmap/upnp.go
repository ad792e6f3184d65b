package natmap

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// igdClient is the slice of the goupnp generated WAN*Connection clients
// used here. All four client families implement it.
type igdClient interface {
	AddPortMapping(
		newRemoteHost string,
		newExternalPort uint16,
		newProtocol string,
		newInternalPort uint16,
		newInternalClient string,
		newEnabled bool,
		newPortMappingDescription string,
		newLeaseDuration uint32,
	) error

	GetExternalIPAddress() (string, error)
}

// upnpGateway wraps a goupnp client as a Gateway. The endpoint is the
// host:port of the device description URL, which stays stable across
// repeated discoveries of the same device.
type upnpGateway struct {
	client   igdClient
	endpoint string
}

func newUPnPGateway(client igdClient, location *url.URL) *upnpGateway {
	return &upnpGateway{
		client:   client,
		endpoint: location.Host,
	}
}

func (g *upnpGateway) Endpoint() string { return g.endpoint }

func (g *upnpGateway) CreatePortMap(_ context.Context, req MappingRequest) error {
	localIP, err := localIPFor(g.endpoint)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", g.endpoint, err)
	}

	var lease uint32
	if req.Lease > 0 {
		lease = uint32(req.Lease / time.Second)
	}

	err = g.client.AddPortMapping(
		"",
		uint16(req.PublicPort),
		string(req.Protocol),
		uint16(req.PrivatePort),
		localIP.String(),
		true,
		req.Description,
		lease,
	)
	if err != nil {
		return fmt.Errorf("gateway %s: add port mapping %d->%d/%s: %w",
			g.endpoint, req.PublicPort, req.PrivatePort, req.Protocol, err)
	}
	return nil
}

// ExternalIP asks the gateway for its WAN address. Used by diagnostics.
func (g *upnpGateway) ExternalIP() (string, error) {
	return g.client.GetExternalIPAddress()
}

// upnpSweep searches the network for IGD devices and returns a Gateway
// for every WAN connection service found. IGD2 services are preferred
// but all responding clients are returned, not just the first.
func upnpSweep() []Gateway {
	var gateways []Gateway

	if clients, _, err := internetgateway2.NewWANIPConnection1Clients(); err == nil {
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1Clients(); err == nil {
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
	}
	if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil {
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
	}
	if clients, _, err := internetgateway1.NewWANPPPConnection1Clients(); err == nil {
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
	}

	return gateways
}

// clientsForLocation builds Gateways from a known device description
// URL, trying the same client families as upnpSweep in the same order.
// Used when SSDP announces a device without a full search.
func clientsForLocation(location *url.URL) []Gateway {
	if clients, err := internetgateway2.NewWANIPConnection1ClientsByURL(location); err == nil && len(clients) > 0 {
		gateways := make([]Gateway, 0, len(clients))
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
		return gateways
	}
	if clients, err := internetgateway2.NewWANPPPConnection1ClientsByURL(location); err == nil && len(clients) > 0 {
		gateways := make([]Gateway, 0, len(clients))
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
		return gateways
	}
	if clients, err := internetgateway1.NewWANIPConnection1ClientsByURL(location); err == nil && len(clients) > 0 {
		gateways := make([]Gateway, 0, len(clients))
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
		return gateways
	}
	if clients, err := internetgateway1.NewWANPPPConnection1ClientsByURL(location); err == nil && len(clients) > 0 {
		gateways := make([]Gateway, 0, len(clients))
		for _, c := range clients {
			gateways = append(gateways, newUPnPGateway(c, c.Location))
		}
		return gateways
	}
	return nil
}
