package forward

import (
	"strconv"
	"strings"

	"github.com/HerbHall/portward/internal/settings"
)

// HostInfo describes the local listeners whose ports get published
// through the gateway. Implemented by the server config.
type HostInfo interface {
	LocalHTTPPort() int
	LocalHTTPSPort() int
	ListenTLS() bool
	Name() string
}

// configFingerprint derives a stable identifier from every setting the
// forwarding behavior depends on. Any change in the fingerprint means
// active mappings may be stale and discovery must restart.
func configFingerprint(fw settings.Forwarding, host HostInfo) string {
	parts := []string{
		strconv.FormatBool(fw.EnableForwarding),
		strconv.FormatBool(fw.EnableRemoteAccess),
		strconv.Itoa(fw.PublicHTTPPort),
		strconv.Itoa(fw.PublicHTTPSPort),
		strconv.Itoa(host.LocalHTTPPort()),
		strconv.Itoa(host.LocalHTTPSPort()),
		strconv.FormatBool(host.ListenTLS()),
	}
	return strings.Join(parts, "|")
}

// fingerprintChanged compares fingerprints case-insensitively.
func fingerprintChanged(oldFP, newFP string) bool {
	return !strings.EqualFold(oldFP, newFP)
}
