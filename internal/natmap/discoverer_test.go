package natmap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koron/go-ssdp"
	"go.uber.org/zap"
)

// stubGateway is a Gateway that records nothing.
type stubGateway struct {
	endpoint string
}

func (g *stubGateway) Endpoint() string { return g.endpoint }
func (g *stubGateway) CreatePortMap(context.Context, MappingRequest) error {
	return nil
}

func newTestDiscoverer(clk clock.Clock) *Discoverer {
	d := NewDiscoverer(zap.NewNop(), clk, 5*time.Minute, time.Second)
	d.startMonitor = func() (*ssdp.Monitor, error) { return nil, nil }
	return d
}

func TestDiscoverer_DeliversToAllSubscribers(t *testing.T) {
	d := newTestDiscoverer(clock.NewMock())

	got1 := make(chan Gateway, 1)
	got2 := make(chan Gateway, 1)
	d.Subscribe(func(gw Gateway) { got1 <- gw })
	d.Subscribe(func(gw Gateway) { got2 <- gw })

	gw := &stubGateway{endpoint: "192.0.2.1:1900"}
	d.deliver(gw)

	for i, ch := range []chan Gateway{got1, got2} {
		select {
		case g := <-ch:
			if g.Endpoint() != gw.Endpoint() {
				t.Errorf("subscriber %d got %q, want %q", i, g.Endpoint(), gw.Endpoint())
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d never received the gateway", i)
		}
	}
}

func TestDiscoverer_UnsubscribeStopsDelivery(t *testing.T) {
	d := newTestDiscoverer(clock.NewMock())

	var calls atomic.Int32
	unsubscribe := d.Subscribe(func(Gateway) { calls.Add(1) })
	unsubscribe()

	d.deliver(&stubGateway{endpoint: "192.0.2.1:1900"})
	time.Sleep(50 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times after unsubscribe", n)
	}
}

func TestDiscoverer_SweepsOnStartAndInterval(t *testing.T) {
	clk := clock.NewMock()
	d := newTestDiscoverer(clk)

	sweeps := make(chan struct{}, 8)
	d.sweep = func(context.Context) []Gateway {
		sweeps <- struct{}{}
		return []Gateway{&stubGateway{endpoint: "192.0.2.1:1900"}}
	}

	got := make(chan Gateway, 8)
	d.Subscribe(func(gw Gateway) { got <- gw })

	if err := d.StartDiscovery(); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	defer d.StopDiscovery()

	// Immediate sweep on start.
	select {
	case <-sweeps:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep after StartDiscovery")
	}
	select {
	case gw := <-got:
		if gw.Endpoint() != "192.0.2.1:1900" {
			t.Errorf("endpoint = %q", gw.Endpoint())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway from first sweep never delivered")
	}

	// Let the loop arm its ticker before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	clk.Add(5 * time.Minute)

	select {
	case <-sweeps:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep after advancing past the search interval")
	}
}

func TestDiscoverer_StartTwiceIsNoop(t *testing.T) {
	clk := clock.NewMock()
	d := newTestDiscoverer(clk)

	var sweepCount atomic.Int32
	started := make(chan struct{}, 4)
	d.sweep = func(context.Context) []Gateway {
		sweepCount.Add(1)
		started <- struct{}{}
		return nil
	}

	if err := d.StartDiscovery(); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	<-started
	if err := d.StartDiscovery(); err != nil {
		t.Fatalf("second StartDiscovery() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := sweepCount.Load(); n != 1 {
		t.Errorf("sweep ran %d times, want 1 (second start must not spawn a loop)", n)
	}

	d.StopDiscovery()
}

func TestDiscoverer_StopIsIdempotent(t *testing.T) {
	d := newTestDiscoverer(clock.NewMock())
	d.sweep = func(context.Context) []Gateway { return nil }

	if err := d.StartDiscovery(); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	if err := d.StopDiscovery(); err != nil {
		t.Fatalf("StopDiscovery() error = %v", err)
	}
	if err := d.StopDiscovery(); err != nil {
		t.Fatalf("second StopDiscovery() error = %v", err)
	}

	// Restart works after a full stop.
	if err := d.StartDiscovery(); err != nil {
		t.Fatalf("restart StartDiscovery() error = %v", err)
	}
	if err := d.StopDiscovery(); err != nil {
		t.Fatalf("final StopDiscovery() error = %v", err)
	}
}
