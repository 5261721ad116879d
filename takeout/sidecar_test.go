package takeout

import (
	"testing"
)

func TestSidecarFor(t *testing.T) {
	longBase := "abcdefghijklmnopqrstu-vwxyzabcde-fghijklmnopqrst.jpg"
	longTruncated := (longBase + supplementalSuffix)[:maxSidecarStem] + ".json"
	longNumbered := "abcdefghijklmnopqrstu-vwxyzabcde-fghijklmnopqrst(1).jpg"
	longNumberedSidecar := (longBase + supplementalSuffix)[:maxSidecarStem] + "(1).json"

	for i, test := range []struct {
		base          string
		jsons         []string
		expect        string
		expectMatcher string
	}{
		{
			base:          "IMG_20161204_194948.jpg",
			jsons:         []string{"IMG_20161204_194948.jpg.supplemental-metadata.json"},
			expect:        "IMG_20161204_194948.jpg.supplemental-metadata.json",
			expectMatcher: "exactSupplemental",
		},
		{
			base:          "IMG_20161204_194948.jpg",
			jsons:         []string{"IMG_20161204_194948.jpg.json"},
			expect:        "IMG_20161204_194948.jpg.json",
			expectMatcher: "exactPlain",
		},
		{
			// exact supplemental wins over exact plain when both exist
			base: "IMG_001.jpg",
			jsons: []string{
				"IMG_001.jpg.json",
				"IMG_001.jpg.supplemental-metadata.json",
			},
			expect:        "IMG_001.jpg.supplemental-metadata.json",
			expectMatcher: "exactSupplemental",
		},
		{
			base:          "IMG_001(1).jpg",
			jsons:         []string{"IMG_001.jpg.supplemental-metadata(1).json"},
			expect:        "IMG_001.jpg.supplemental-metadata(1).json",
			expectMatcher: "numberedDuplicate",
		},
		{
			base:          "IMG_001(1).jpg",
			jsons:         []string{"IMG_001.jpg(1).json"},
			expect:        "IMG_001.jpg(1).json",
			expectMatcher: "numberedDuplicate",
		},
		{
			// suffix truncated mid-word
			base:          "IMG_20160819_201122-01.jpeg",
			jsons:         []string{"IMG_20160819_201122-01.jpeg.supplemental-metad.json"},
			expect:        "IMG_20160819_201122-01.jpeg.supplemental-metad.json",
			expectMatcher: "truncated",
		},
		{
			// truncation cutting into the media filename itself
			base:          longBase,
			jsons:         []string{longTruncated},
			expect:        longTruncated,
			expectMatcher: "truncated",
		},
		{
			// uniqueness counter survives truncation
			base:          longNumbered,
			jsons:         []string{longNumberedSidecar},
			expect:        longNumberedSidecar,
			expectMatcher: "truncated",
		},
		{
			base:   "IMG_001.jpg",
			jsons:  []string{"IMG_002.jpg.supplemental-metadata.json"},
			expect: "",
		},
		{
			base:   "IMG_001.jpg",
			jsons:  nil,
			expect: "",
		},
	} {
		jsons := make(map[string]struct{}, len(test.jsons))
		for _, j := range test.jsons {
			jsons[j] = struct{}{}
		}
		sidecar, matcher := sidecarFor(test.base, jsons)
		if sidecar != test.expect {
			t.Errorf("Test %d (base=%q): expected sidecar %q but got %q", i, test.base, test.expect, sidecar)
		}
		if matcher != test.expectMatcher {
			t.Errorf("Test %d (base=%q): expected matcher %q but got %q", i, test.base, test.expectMatcher, matcher)
		}
	}
}

func TestMatchTruncatedMultibyteBoundary(t *testing.T) {
	// a name whose 46-byte cut would land inside a multi-byte rune must
	// not panic or produce an invalid prefix
	base := "семейный-альбом-очень-длинное-имя.jpg"
	full := base + supplementalSuffix
	cut := maxSidecarStem
	for cut > 0 && !isRuneStart(full, cut) {
		cut--
	}
	sidecar := full[:cut] + ".json"
	jsons := map[string]struct{}{sidecar: {}}

	got, matcher := sidecarFor(base, jsons)
	if got != sidecar {
		t.Errorf("expected %q but got %q", sidecar, got)
	}
	if matcher != "truncated" {
		t.Errorf("expected truncated matcher, got %q", matcher)
	}
}

func isRuneStart(s string, i int) bool {
	return i == 0 || (s[i]&0xC0) != 0x80
}
