package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var chromeOnMac = ClientMetadata{
	IP:             "203.0.113.17:51234",
	UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/124.0.6367.91 Safari/537.36",
	AcceptLanguage: "en-US,en;q=0.9",
}

func TestDeriveFingerprintStableAcrossVolatileFields(t *testing.T) {
	base := DeriveFingerprint(chromeOnMac)
	require.True(t, strings.HasPrefix(base, "fp1."))

	drift := chromeOnMac
	drift.IP = "203.0.113.200"
	drift.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/125.0.6422.60 Safari/537.36"
	drift.AcceptLanguage = "en-GB"
	require.Equal(t, base, DeriveFingerprint(drift))

	require.Empty(t, DeriveFingerprint(ClientMetadata{}))
}

func TestNetworkBucket(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "198.51.100.7", want: "198.51.100.0/24"},
		{in: "198.51.100.7:443", want: "198.51.100.0/24"},
		{in: "::ffff:198.51.100.7", want: "198.51.100.0/24"},
		{in: "2001:db8:abcd:12::1", want: "2001:db8:abcd::/48"},
		{in: "[2001:db8:abcd:12::1]:8080", want: "2001:db8:abcd::/48"},
		{in: "garbage", want: ""},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			require.Equal(t, tc.want, networkBucket(tc.in))
		})
	}
}

func TestMatchFingerprintsStrictness(t *testing.T) {
	stored := DeriveFingerprint(chromeOnMac)

	newNetwork := chromeOnMac
	newNetwork.IP = "192.0.2.10"
	oneOff := DeriveFingerprint(newNetwork)

	otherDevice := DeriveFingerprint(ClientMetadata{IP: "192.0.2.10", UserAgent: "curl/8.4.0", AcceptLanguage: "de"})

	cases := []struct {
		name       string
		stored     string
		supplied   string
		strictness Strictness
		want       bool
	}{
		{name: "no stored fingerprint", stored: "", supplied: otherDevice, strictness: StrictnessStrict, want: true},
		{name: "off ignores mismatch", stored: stored, supplied: otherDevice, strictness: StrictnessOff, want: true},
		{name: "strict exact", stored: stored, supplied: stored, strictness: StrictnessStrict, want: true},
		{name: "strict one component", stored: stored, supplied: oneOff, strictness: StrictnessStrict, want: false},
		{name: "strict missing supplied", stored: stored, supplied: "", strictness: StrictnessStrict, want: false},
		{name: "low one component", stored: stored, supplied: oneOff, strictness: StrictnessLow, want: true},
		{name: "low missing supplied", stored: stored, supplied: "", strictness: StrictnessLow, want: true},
		{name: "low other device", stored: stored, supplied: otherDevice, strictness: StrictnessLow, want: false},
		{name: "derived stored opaque supplied", stored: stored, supplied: "fp0.a.b", strictness: StrictnessLow, want: false},
		{name: "opaque stored derived supplied", stored: "device-abc-123", supplied: stored, strictness: StrictnessLow, want: false},
		{name: "opaque equal low", stored: "device-abc-123", supplied: "device-abc-123", strictness: StrictnessLow, want: true},
		{name: "opaque equal strict", stored: "device-abc-123", supplied: "device-abc-123", strictness: StrictnessStrict, want: true},
		{name: "opaque differs low", stored: "device-abc-123", supplied: "device-abc-124", strictness: StrictnessLow, want: false},
		{name: "opaque missing strict", stored: "device-abc-123", supplied: "", strictness: StrictnessStrict, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MatchFingerprints(tc.stored, tc.supplied, tc.strictness))
		})
	}
}

func TestParseStrictness(t *testing.T) {
	s, err := ParseStrictness(" STRICT ")
	require.NoError(t, err)
	require.Equal(t, StrictnessStrict, s)

	s, err = ParseStrictness("")
	require.NoError(t, err)
	require.Equal(t, StrictnessLow, s)

	_, err = ParseStrictness("paranoid")
	require.Error(t, err)
}

func FuzzDeriveFingerprintDeterministic(f *testing.F) {
	f.Add("10.0.0.1", "Mozilla/5.0", "en-US")
	f.Add("", "", "")
	f.Add("::1", "curl/8.0", "fr;q=0.8")

	f.Fuzz(func(t *testing.T, ip, ua, lang string) {
		meta := ClientMetadata{IP: ip, UserAgent: ua, AcceptLanguage: lang}
		first := DeriveFingerprint(meta)
		if first != DeriveFingerprint(meta) {
			t.Fatal("fingerprint must be deterministic")
		}
		if first != "" && !MatchFingerprints(first, first, StrictnessStrict) {
			t.Fatalf("fingerprint must match itself: %q", first)
		}
	})
}
