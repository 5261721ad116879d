/*
	Photomigrate
	Copyright (c) 2025 The Photomigrate Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package takeout

import (
	"regexp"
	"unicode/utf8"
)

// Takeout names sidecars after the media file plus this suffix, but the
// sidecar's base name (everything before ".json") is truncated when it
// exceeds maxSidecarStem. The truncation rule is Google's, undocumented
// and versioned; matching below is therefore an ordered list of candidate
// generators tried most-common-first, not an exact reconstruction.
const (
	supplementalSuffix = ".supplemental-metadata"
	maxSidecarStem     = 46
)

// sidecarMatchers are tried in order; the first one that produces a name
// present in the directory's JSON set wins. The terminal state is "no
// sidecar found", in which case the item is still emitted.
var sidecarMatchers = []struct {
	name string
	fn   func(base string, jsons map[string]struct{}) string
}{
	{"exactSupplemental", matchExactSupplemental},
	{"exactPlain", matchExactPlain},
	{"numberedDuplicate", matchNumberedDuplicate},
	{"truncated", matchTruncated},
}

// sidecarFor returns the sidecar filename for the media file base name,
// matched against the set of JSON filenames present in the same
// directory, along with the name of the matcher that found it. Returns
// ("", "") when no candidate matches.
func sidecarFor(base string, jsons map[string]struct{}) (sidecar, matcher string) {
	for _, m := range sidecarMatchers {
		if got := m.fn(base, jsons); got != "" {
			return got, m.name
		}
	}
	return "", ""
}

// IMG_001.jpg -> IMG_001.jpg.supplemental-metadata.json
func matchExactSupplemental(base string, jsons map[string]struct{}) string {
	return present(jsons, base+supplementalSuffix+".json")
}

// IMG_001.jpg -> IMG_001.jpg.json (older exports)
func matchExactPlain(base string, jsons map[string]struct{}) string {
	return present(jsons, base+".json")
}

var numberedName = regexp.MustCompile(`^(.*)(\(\d+\))(\.[^.]+)$`)

// Duplicated originals get a counter inserted differently in the media
// file and its sidecar: IMG_001(1).jpg pairs with IMG_001.jpg(1).json or
// IMG_001.jpg.supplemental-metadata(1).json.
func matchNumberedDuplicate(base string, jsons map[string]struct{}) string {
	m := numberedName.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	stem, num, ext := m[1], m[2], m[3]
	if got := present(jsons, stem+ext+supplementalSuffix+num+".json"); got != "" {
		return got
	}
	return present(jsons, stem+ext+num+".json")
}

// matchTruncated tries progressively shorter prefixes of
// "<base>.supplemental-metadata" (which also covers truncation cutting
// into the media filename itself), with and without a "(N)" uniqueness
// counter carried over from the media name.
func matchTruncated(base string, jsons map[string]struct{}) string {
	stem, num := base, ""
	if m := numberedName.FindStringSubmatch(base); m != nil {
		stem, num = m[1]+m[3], m[2]
	}

	full := stem + supplementalSuffix
	start := len(full)
	if start > maxSidecarStem {
		start = maxSidecarStem
	}
	for i := start; i > 0; i-- {
		if i < len(full) && !utf8.RuneStart(full[i]) {
			continue // don't cut inside a multi-byte rune
		}
		prefix := full[:i]
		if num != "" {
			if got := present(jsons, prefix+num+".json"); got != "" {
				return got
			}
		}
		if got := present(jsons, prefix+".json"); got != "" {
			return got
		}
	}
	return ""
}

func present(jsons map[string]struct{}, candidate string) string {
	if _, ok := jsons[candidate]; ok {
		return candidate
	}
	return ""
}
