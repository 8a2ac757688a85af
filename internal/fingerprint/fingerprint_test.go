package fingerprint

import (
	"testing"

	"canvaspreview/internal/domain"
)

func TestComputeDeterministic(t *testing.T) {
	hash := ContentHash([]byte("photo-bytes"))
	first := Compute(hash, "classic-oil-painting", domain.Aspect1x1, domain.QualityHigh)
	for i := 0; i < 5; i++ {
		if got := Compute(hash, "classic-oil-painting", domain.Aspect1x1, domain.QualityHigh); got != first {
			t.Fatalf("Compute() = %s, want %s", got, first)
		}
	}
	// Pinned: keys must survive restarts and deploys.
	const pinned = "428d2b5e07589441c6c09b70d2cd0ab9d953d28f779ab537af6241528fef76b9"
	if hash != "dac6f451810bc38390a3b6e278d686b332a77cf21b2ea95145ad73722b77035d" {
		t.Fatalf("ContentHash() = %s", hash)
	}
	if first != pinned {
		t.Fatalf("Compute() = %s, want pinned %s", first, pinned)
	}
}

func TestComputeDistinguishesInputs(t *testing.T) {
	hash := ContentHash([]byte("photo-bytes"))
	base := Compute(hash, "classic-oil-painting", domain.Aspect1x1, domain.QualityHigh)
	tests := []struct {
		name string
		got  Fingerprint
	}{
		{"content", Compute(ContentHash([]byte("other")), "classic-oil-painting", domain.Aspect1x1, domain.QualityHigh)},
		{"style", Compute(hash, "watercolor", domain.Aspect1x1, domain.QualityHigh)},
		{"aspect", Compute(hash, "classic-oil-painting", domain.Aspect3x4, domain.QualityHigh)},
		{"quality", Compute(hash, "classic-oil-painting", domain.Aspect1x1, domain.QualityLow)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got == base {
				t.Fatalf("changing %s did not change the fingerprint", tc.name)
			}
		})
	}
}

func TestComputeFieldBoundaries(t *testing.T) {
	a := Compute("ab", "c", domain.Aspect1x1, domain.QualityAuto)
	b := Compute("a", "bc", domain.Aspect1x1, domain.QualityAuto)
	if a == b {
		t.Fatalf("shifting bytes between fields produced the same fingerprint")
	}
}

func TestComputeNormalizesHashCase(t *testing.T) {
	hash := ContentHash([]byte("x"))
	upper := []byte(hash)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	if Compute(hash, "s", domain.Aspect1x1, domain.QualityAuto) != Compute(string(upper), "s", domain.Aspect1x1, domain.QualityAuto) {
		t.Fatalf("content hash case should not affect the fingerprint")
	}
}

func TestKeyVariants(t *testing.T) {
	fp := Compute(ContentHash([]byte("x")), "s", domain.Aspect1x1, domain.QualityAuto)
	wm := Key(fp, VariantFor(true))
	clean := Key(fp, VariantFor(false))
	if wm == clean {
		t.Fatalf("watermarked and clean keys must differ")
	}
	if wm != fp.String()+"-wm" {
		t.Fatalf("Key() = %s", wm)
	}
}

func TestIsContentHash(t *testing.T) {
	if !IsContentHash(ContentHash([]byte("x"))) {
		t.Fatalf("expected digest to be accepted")
	}
	for _, bad := range []string{"", "abc", "zz" + ContentHash([]byte("x"))[2:]} {
		if IsContentHash(bad) {
			t.Fatalf("IsContentHash(%q) = true", bad)
		}
	}
}
