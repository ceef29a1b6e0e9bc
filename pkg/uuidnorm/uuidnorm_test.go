package uuidnorm

import "testing"

func TestNormalizeRoundTrip(t *testing.T) {
	inputs := []string{
		"9800",
		"00009800-0000-1000-8000-00805f9b34fb",
		"0000980000001000800000805f9b34fb",
		"ABCD",
		"0000ABCD00001000800000805F9B34FB",
	}

	for _, style := range []Style{StyleFull, StyleShort} {
		for _, in := range inputs {
			t.Run(in, func(t *testing.T) {
				once := Normalize(in, style)
				twice := Normalize(once, style)
				if once != twice {
					t.Errorf("Normalize not idempotent: %q -> %q -> %q", in, once, twice)
				}
			})
		}
	}
}

func TestNormalizeExpandsShortToFull(t *testing.T) {
	got := Normalize("9800", StyleFull)
	want := "0000980000001000800000805f9b34fb"
	if got != want {
		t.Errorf("Normalize(%q, StyleFull) = %q, want %q", "9800", got, want)
	}
}

func TestNormalizeShortensFullToShort(t *testing.T) {
	got := Normalize("0000980000001000800000805f9b34fb", StyleShort)
	if got != "9800" {
		t.Errorf("Normalize(full, StyleShort) = %q, want %q", got, "9800")
	}
}

func TestNormalizeStripsDashesAndCase(t *testing.T) {
	dashed := "00009800-0000-1000-8000-00805F9B34FB"
	got := Normalize(dashed, StyleFull)
	want := "0000980000001000800000805f9b34fb"
	if got != want {
		t.Errorf("Normalize(%q) = %q, want %q", dashed, got, want)
	}
}

func TestEqualAcrossForms(t *testing.T) {
	forms := []string{
		"9800",
		"0000980000001000800000805f9b34fb",
		"00009800-0000-1000-8000-00805f9b34fb",
		"00009800-0000-1000-8000-00805F9B34FB",
	}
	for _, style := range []Style{StyleFull, StyleShort} {
		for _, a := range forms {
			for _, b := range forms {
				if !Equal(a, b, style) {
					t.Errorf("Equal(%q, %q, %v) = false, want true", a, b, style)
				}
			}
		}
	}
}

func TestEqualDistinguishesDifferentUUIDs(t *testing.T) {
	if Equal("9800", "9801", StyleFull) {
		t.Error("Equal(9800, 9801) = true, want false")
	}
}
