package natmap

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

// fakeIGD records AddPortMapping calls.
type fakeIGD struct {
	calls []addCall
	err   error
	extIP string
}

type addCall struct {
	remoteHost   string
	externalPort uint16
	protocol     string
	internalPort uint16
	client       string
	enabled      bool
	description  string
	lease        uint32
}

func (f *fakeIGD) AddPortMapping(remoteHost string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, lease uint32) error {
	f.calls = append(f.calls, addCall{
		remoteHost:   remoteHost,
		externalPort: externalPort,
		protocol:     protocol,
		internalPort: internalPort,
		client:       internalClient,
		enabled:      enabled,
		description:  description,
		lease:        lease,
	})
	return f.err
}

func (f *fakeIGD) GetExternalIPAddress() (string, error) {
	return f.extIP, f.err
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestUPnPGateway_Endpoint(t *testing.T) {
	gw := newUPnPGateway(&fakeIGD{}, mustParseURL(t, "http://192.0.2.1:1900/desc.xml"))
	if got := gw.Endpoint(); got != "192.0.2.1:1900" {
		t.Errorf("Endpoint() = %q, want %q", got, "192.0.2.1:1900")
	}
}

func TestUPnPGateway_CreatePortMap(t *testing.T) {
	igd := &fakeIGD{}
	gw := newUPnPGateway(igd, mustParseURL(t, "http://192.0.2.1:1900/desc.xml"))

	err := gw.CreatePortMap(context.Background(), MappingRequest{
		Protocol:    TCP,
		PrivatePort: 8096,
		PublicPort:  8096,
		Lease:       0,
		Description: "Portward",
	})
	if err != nil {
		t.Fatalf("CreatePortMap() error = %v", err)
	}

	if len(igd.calls) != 1 {
		t.Fatalf("AddPortMapping calls = %d, want 1", len(igd.calls))
	}
	call := igd.calls[0]
	if call.protocol != "TCP" {
		t.Errorf("protocol = %q, want TCP", call.protocol)
	}
	if call.externalPort != 8096 || call.internalPort != 8096 {
		t.Errorf("ports = %d->%d, want 8096->8096", call.externalPort, call.internalPort)
	}
	if !call.enabled {
		t.Error("mapping not enabled")
	}
	if call.description != "Portward" {
		t.Errorf("description = %q, want Portward", call.description)
	}
	if call.lease != 0 {
		t.Errorf("lease = %d, want 0 (permanent)", call.lease)
	}
	if call.client == "" {
		t.Error("internal client address is empty")
	}
}

func TestUPnPGateway_CreatePortMap_LeaseSeconds(t *testing.T) {
	igd := &fakeIGD{}
	gw := newUPnPGateway(igd, mustParseURL(t, "http://192.0.2.1:1900/desc.xml"))

	err := gw.CreatePortMap(context.Background(), MappingRequest{
		Protocol:    UDP,
		PrivatePort: 5000,
		PublicPort:  5001,
		Lease:       2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("CreatePortMap() error = %v", err)
	}
	if igd.calls[0].lease != 120 {
		t.Errorf("lease = %d, want 120 seconds", igd.calls[0].lease)
	}
}

func TestUPnPGateway_CreatePortMap_WrapsErrorWithEndpoint(t *testing.T) {
	sentinel := errors.New("device refused")
	gw := newUPnPGateway(&fakeIGD{err: sentinel}, mustParseURL(t, "http://192.0.2.1:1900/desc.xml"))

	err := gw.CreatePortMap(context.Background(), MappingRequest{
		Protocol:    TCP,
		PrivatePort: 8096,
		PublicPort:  8096,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error does not wrap cause: %v", err)
	}
	if !strings.Contains(err.Error(), "192.0.2.1:1900") {
		t.Errorf("error does not name the gateway endpoint: %v", err)
	}
}

func TestIsGatewayType(t *testing.T) {
	tests := []struct {
		nt   string
		want bool
	}{
		{"urn:schemas-upnp-org:device:InternetGatewayDevice:1", true},
		{"urn:schemas-upnp-org:device:InternetGatewayDevice:2", true},
		{"urn:schemas-upnp-org:service:WANIPConnection:1", true},
		{"urn:schemas-upnp-org:service:WANPPPConnection:1", true},
		{"urn:schemas-upnp-org:device:MediaServer:1", false},
		{"upnp:rootdevice", false},
	}

	for _, tt := range tests {
		if got := isGatewayType(tt.nt); got != tt.want {
			t.Errorf("isGatewayType(%q) = %v, want %v", tt.nt, got, tt.want)
		}
	}
}
