// Package uuidnorm normalizes Bluetooth GATT UUIDs that arrive on the wire
// in short (4 hex char), full-no-dashes (32 hex char), or dashed form into
// a single canonical form for comparison, per the platform's preferred
// BLE stack UUID width.
package uuidnorm

import "strings"

// bluetoothBase is the standard Bluetooth SIG base UUID, used to expand a
// 16-bit short UUID into its full 128-bit form and to recognize a full
// UUID that can be folded back down to short form.
const bluetoothBase = "00001000800000805f9b34fb"

// Style selects the canonical width a platform's BLE stack prefers.
// Desktop central-role stacks (e.g. tinygo.org/x/bluetooth on Linux
// BlueZ/D-Bus and Windows WinRT) generally expect full 128-bit UUIDs;
// some embedded/host combinations are happier with the 16-bit short form.
// Modeled as a runtime value rather than a build tag because the bridge
// host is selected at deploy time, not compile time.
type Style int

const (
	// StyleFull normalizes to a 32-hex-char UUID without dashes.
	StyleFull Style = iota
	// StyleShort normalizes to a 4-hex-char UUID.
	StyleShort
)

// Normalize canonicalizes u according to style. Input whose dash-stripped
// length is neither 4 nor 32 is returned lowercased with its dashes
// removed, so callers can still compare it, but it will not match a
// normalized UUID from a well-formed peer. Characters are not checked for
// being hex digits.
func Normalize(u string, style Style) string {
	clean := strings.ToLower(strings.ReplaceAll(u, "-", ""))

	switch len(clean) {
	case 4:
		if style == StyleShort {
			return clean
		}
		return expand(clean)
	case 32:
		if style == StyleFull {
			return clean
		}
		if short, ok := shortenIfBase(clean); ok {
			return short
		}
		// A full UUID outside the Bluetooth base cannot be represented in
		// short form; keep it full so comparisons still fail safely
		// against another full UUID rather than silently truncating.
		return clean
	default:
		return clean
	}
}

// expand turns a 4-hex-char short UUID into its 32-hex-char full form:
// 0000XXXX-0000-1000-8000-00805F9B34FB, no dashes.
func expand(short string) string {
	return "0000" + short + bluetoothBase
}

// shortenIfBase extracts characters 4..8 (the 16-bit UUID field) from a
// full UUID whose surrounding bytes match the Bluetooth base UUID.
func shortenIfBase(full string) (string, bool) {
	if len(full) != 32 {
		return "", false
	}
	if full[:4] != "0000" || full[8:] != bluetoothBase {
		return "", false
	}
	return full[4:8], true
}

// Equal reports whether two UUIDs in any recognized form refer to the same
// GATT UUID, comparing under the given style.
func Equal(a, b string, style Style) bool {
	return Normalize(a, style) == Normalize(b, style)
}
