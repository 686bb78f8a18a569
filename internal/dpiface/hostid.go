package dpiface

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// HostID implements reconfigure.HostIDProvider by reading the
// platform's persistent machine identifier, the fallback datapath-id
// source of last resort (§4.2.2 rule 3).
type HostID struct{}

// HostUUID returns the host's /etc/machine-id, falling back to
// /var/lib/dbus/machine-id, normalized into canonical UUID form.
func (HostID) HostUUID() (string, bool) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(raw))
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed.String(), true
		}
		// machine-id is a bare 32-hex-digit string, not hyphenated; fold
		// it through the parser's alternate form before giving up.
		if len(id) == 32 {
			if parsed, err := uuid.Parse(id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]); err == nil {
				return parsed.String(), true
			}
		}
	}
	return "", false
}
