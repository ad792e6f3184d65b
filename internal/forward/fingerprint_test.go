package forward

import (
	"testing"

	"github.com/HerbHall/portward/internal/settings"
)

func TestConfigFingerprint_Stable(t *testing.T) {
	fw := settings.Forwarding{
		EnableForwarding:   true,
		EnableRemoteAccess: true,
		PublicHTTPPort:     8096,
		PublicHTTPSPort:    8920,
	}
	host := &fakeHost{httpPort: 8096, httpsPort: 8920, tls: true, name: "Portward"}

	a := configFingerprint(fw, host)
	b := configFingerprint(fw, host)
	if a != b {
		t.Errorf("fingerprint not stable: %q != %q", a, b)
	}
	if a != "true|true|8096|8920|8096|8920|true" {
		t.Errorf("fingerprint = %q", a)
	}
}

func TestConfigFingerprint_ReflectsEveryInput(t *testing.T) {
	base := settings.Forwarding{
		EnableForwarding:   true,
		EnableRemoteAccess: true,
		PublicHTTPPort:     8096,
		PublicHTTPSPort:    8920,
	}
	host := &fakeHost{httpPort: 8096, httpsPort: 8920, tls: true, name: "Portward"}
	baseline := configFingerprint(base, host)

	mutations := map[string]func() string{
		"enable_forwarding": func() string {
			fw := base
			fw.EnableForwarding = false
			return configFingerprint(fw, host)
		},
		"enable_remote_access": func() string {
			fw := base
			fw.EnableRemoteAccess = false
			return configFingerprint(fw, host)
		},
		"public_http_port": func() string {
			fw := base
			fw.PublicHTTPPort = 9000
			return configFingerprint(fw, host)
		},
		"public_https_port": func() string {
			fw := base
			fw.PublicHTTPSPort = 9443
			return configFingerprint(fw, host)
		},
		"local_http_port": func() string {
			return configFingerprint(base, &fakeHost{httpPort: 9096, httpsPort: 8920, tls: true})
		},
		"local_https_port": func() string {
			return configFingerprint(base, &fakeHost{httpPort: 8096, httpsPort: 9920, tls: true})
		},
		"tls": func() string {
			return configFingerprint(base, &fakeHost{httpPort: 8096, httpsPort: 8920, tls: false})
		},
	}

	for name, mutate := range mutations {
		if mutate() == baseline {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprintChanged_CaseInsensitive(t *testing.T) {
	if fingerprintChanged("true|8096", "TRUE|8096") {
		t.Error("comparison should ignore case")
	}
	if !fingerprintChanged("true|8096", "true|9000") {
		t.Error("different fingerprints reported as equal")
	}
	if fingerprintChanged("", "") {
		t.Error("empty fingerprints reported as different")
	}
}
