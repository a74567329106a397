package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

type Strictness string

const (
	StrictnessOff    Strictness = "off"
	StrictnessLow    Strictness = "low"
	StrictnessStrict Strictness = "strict"
)

const (
	fingerprintVersion    = "fp1"
	fingerprintComponents = 3
	componentHexLen       = 16
)

var versionRuns = regexp.MustCompile(`[0-9]+([._][0-9]+)*`)

func ParseStrictness(raw string) (Strictness, error) {
	switch s := Strictness(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrictnessOff, StrictnessLow, StrictnessStrict:
		return s, nil
	case "":
		return StrictnessLow, nil
	default:
		return "", fmt.Errorf("unknown fingerprint strictness %q", raw)
	}
}

// ClientMetadata is the connection metadata a fingerprint is derived from. IP may
// carry a port.
type ClientMetadata struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
}

func (m ClientMetadata) empty() bool {
	return strings.TrimSpace(m.IP) == "" && strings.TrimSpace(m.UserAgent) == "" && strings.TrimSpace(m.AcceptLanguage) == ""
}

type FingerprintValidator struct {
	strictness Strictness
}

func NewFingerprintValidator(strictness Strictness) *FingerprintValidator {
	if strictness == "" {
		strictness = StrictnessLow
	}
	return &FingerprintValidator{strictness: strictness}
}

func (v *FingerprintValidator) Strictness() Strictness { return v.strictness }

// Derive hashes each stable component separately so Matches can tolerate partial drift.
// Empty metadata yields an empty fingerprint.
func (v *FingerprintValidator) Derive(meta ClientMetadata) string {
	return DeriveFingerprint(meta)
}

func (v *FingerprintValidator) Matches(stored, supplied string) bool {
	return MatchFingerprints(stored, supplied, v.strictness)
}

func DeriveFingerprint(meta ClientMetadata) string {
	if meta.empty() {
		return ""
	}
	parts := []string{
		normalizeUserAgent(meta.UserAgent),
		primaryLanguage(meta.AcceptLanguage),
		networkBucket(meta.IP),
	}
	var b strings.Builder
	b.WriteString(fingerprintVersion)
	for i, p := range parts {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", i, p)))
		b.WriteByte('.')
		b.WriteString(hex.EncodeToString(sum[:])[:componentHexLen])
	}
	return b.String()
}

// MatchFingerprints compares a stored fingerprint with a supplied one. A record
// without a stored fingerprint always matches. Derived fingerprints are compared per
// component; any other value must equal the stored one exactly.
func MatchFingerprints(stored, supplied string, strictness Strictness) bool {
	if stored == "" || strictness == StrictnessOff {
		return true
	}
	if supplied == "" {
		return strictness == StrictnessLow
	}
	a, okA := splitFingerprint(stored)
	b, okB := splitFingerprint(supplied)
	if !okA || !okB {
		// Client-supplied fingerprints are opaque and compared whole.
		return !okA && !okB && subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
	}
	differing := 0
	for i := range a {
		if subtle.ConstantTimeCompare([]byte(a[i]), []byte(b[i])) != 1 {
			differing++
		}
	}
	if strictness == StrictnessLow {
		return differing <= 1
	}
	return differing == 0
}

func splitFingerprint(fp string) ([]string, bool) {
	parts := strings.Split(fp, ".")
	if len(parts) != fingerprintComponents+1 || parts[0] != fingerprintVersion {
		return nil, false
	}
	return parts[1:], true
}

func normalizeUserAgent(ua string) string {
	ua = versionRuns.ReplaceAllString(strings.ToLower(ua), "")
	return strings.Join(strings.Fields(ua), " ")
}

func primaryLanguage(header string) string {
	first := strings.TrimSpace(strings.Split(header, ",")[0])
	first = strings.TrimSpace(strings.Split(first, ";")[0])
	tag := strings.Split(first, "-")[0]
	return strings.ToLower(tag)
}

// networkBucket coarsens an address to /24 for IPv4 and /48 for IPv6.
func networkBucket(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}
