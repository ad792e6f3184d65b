package forward

import (
	"context"
	"fmt"

	"github.com/HerbHall/portward/internal/natmap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// portMap pairs a local listener port with the public port to expose it on.
type portMap struct {
	private int
	public  int
}

// portsToMap reads the live settings on every call so rule creation
// always reflects the current configuration, not the one captured at
// discovery start. The HTTP port is always mapped; the HTTPS port only
// when the host actually listens with TLS.
func (c *Controller) portsToMap(ctx context.Context) ([]portMap, error) {
	fw, err := c.settings.Forwarding(ctx)
	if err != nil {
		return nil, fmt.Errorf("read forwarding settings: %w", err)
	}

	maps := []portMap{
		{private: c.host.LocalHTTPPort(), public: fw.PublicHTTPPort},
	}
	if c.host.ListenTLS() {
		maps = append(maps, portMap{private: c.host.LocalHTTPSPort(), public: fw.PublicHTTPSPort})
	}
	return maps, nil
}

// createPortMap submits one mapping to the gateway. Lease 0 requests a
// permanent mapping; the gateway implementation substitutes a long
// lease where the protocol cannot express that.
func (c *Controller) createPortMap(ctx context.Context, gw natmap.Gateway, pm portMap) error {
	c.logger.Debug("creating port map",
		zap.Int("private_port", pm.private),
		zap.Int("public_port", pm.public),
		zap.String("gateway", gw.Endpoint()),
	)
	mappingAttempts.Inc()

	err := gw.CreatePortMap(ctx, natmap.MappingRequest{
		Protocol:    natmap.TCP,
		PrivatePort: pm.private,
		PublicPort:  pm.public,
		Lease:       0,
		Description: c.host.Name(),
	})
	if err != nil {
		mappingFailures.Inc()
		c.logger.Error("port mapping failed",
			zap.Int("private_port", pm.private),
			zap.Int("public_port", pm.public),
			zap.String("gateway", gw.Endpoint()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// createRules maps all configured ports on the gateway concurrently.
// A failed port does not stop its siblings; the first error is
// returned for the caller to log. ErrDisposed fails fast.
func (c *Controller) createRules(ctx context.Context, gw natmap.Gateway) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	maps, err := c.portsToMap(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, pm := range maps {
		pm := pm
		g.Go(func() error {
			return c.createPortMap(ctx, gw, pm)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.publish(ctx, TopicRulesCreated, RulesEvent{
		Endpoint: gw.Endpoint(),
		Ports:    len(maps),
	})
	return nil
}
