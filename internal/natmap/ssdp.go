package natmap

import (
	"net/url"
	"strings"

	"github.com/koron/go-ssdp"
	"go.uber.org/zap"
)

// isGatewayType reports whether an SSDP notification type belongs to an
// internet gateway device or one of its WAN connection services.
func isGatewayType(nt string) bool {
	return strings.Contains(nt, "InternetGatewayDevice") ||
		strings.Contains(nt, "WANIPConnection") ||
		strings.Contains(nt, "WANPPPConnection")
}

// startSSDPMonitor listens for multicast alive announcements so new or
// rebooted gateways are picked up between active sweeps. Each resolved
// gateway is handed to deliver.
func startSSDPMonitor(logger *zap.Logger, deliver func(Gateway)) (*ssdp.Monitor, error) {
	monitor := &ssdp.Monitor{
		Alive: func(msg *ssdp.AliveMessage) {
			if !isGatewayType(msg.Type) {
				return
			}

			location, err := url.Parse(msg.Location)
			if err != nil {
				logger.Debug("ignoring alive announcement with bad location",
					zap.String("type", msg.Type),
					zap.String("location", msg.Location),
					zap.Error(err),
				)
				return
			}

			gateways := clientsForLocation(location)
			if len(gateways) == 0 {
				logger.Debug("alive announcement resolved to no WAN connection services",
					zap.String("location", msg.Location),
				)
				return
			}

			for _, gw := range gateways {
				deliver(gw)
			}
		},
	}

	if err := monitor.Start(); err != nil {
		return nil, err
	}
	return monitor, nil
}
