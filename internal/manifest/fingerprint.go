package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns a stable content hash of the manifest's identity
// fields: platform version, service set, and dependency edges. Two
// manifests describing the same release fingerprint identically
// regardless of map iteration order, timestamp, or notes.
//
// Strings are NFC-normalized before hashing so that visually identical
// service names with different Unicode compositions cannot produce
// distinct fingerprints.
func (m *Manifest) Fingerprint() string {
	var b strings.Builder

	b.WriteString("platform=")
	b.WriteString(norm.NFC.String(m.PlatformVersion))
	b.WriteByte('\n')

	for _, name := range m.ServiceNames() {
		b.WriteString("service=")
		b.WriteString(norm.NFC.String(name))
		b.WriteByte('@')
		b.WriteString(norm.NFC.String(m.Services[name]))
		b.WriteByte('\n')
	}

	depNames := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)
	for _, name := range depNames {
		deps := append([]string(nil), m.Dependencies[name]...)
		sort.Strings(deps)
		fmt.Fprintf(&b, "deps=%s:%s\n", norm.NFC.String(name), norm.NFC.String(strings.Join(deps, ",")))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
