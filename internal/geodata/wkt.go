package geodata

import (
	"regexp"
	"strconv"
	"strings"
)

const emptyPolygon = "POLYGON EMPTY"

var polygonKeyword = regexp.MustCompile(`(?i)\b(MULTI)?POLYGON\s*\(`)

// RingToWKT writes the ring as POLYGON((lng lat, ...)). The first vertex is
// repeated at the end unless the ring already ends on it exactly.
func RingToWKT(ring Ring) string {
	if len(ring) == 0 {
		return emptyPolygon
	}

	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, p := range ring {
		if i > 0 {
			b.WriteString(", ")
		}
		writePair(&b, p)
	}
	if ring[len(ring)-1] != ring[0] {
		b.WriteString(", ")
		writePair(&b, ring[0])
	}
	b.WriteString("))")
	return b.String()
}

func writePair(b *strings.Builder, p LatLng) {
	b.WriteString(strconv.FormatFloat(p.Lng, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
}

// WKTToRing reads the outer ring of a POLYGON, or of the first polygon of a
// MULTIPOLYGON. Pairs that do not parse to two finite numbers are skipped.
// Text without a recognizable polygon yields an empty ring.
func WKTToRing(text string) Ring {
	loc := polygonKeyword.FindStringSubmatchIndex(text)
	if loc == nil {
		return Ring{}
	}

	// Depth at which coordinates of the outer ring live.
	ringDepth := 2
	if loc[2] >= 0 {
		ringDepth = 3
	}

	body, ok := outerRingBody(text[loc[1]-1:], ringDepth)
	if !ok {
		return Ring{}
	}

	ring := Ring{}
	for _, token := range strings.Split(body, ",") {
		fields := strings.Fields(strings.NewReplacer("(", " ", ")", " ").Replace(token))
		if len(fields) < 2 {
			continue
		}
		lng, errLng := strconv.ParseFloat(fields[0], 64)
		lat, errLat := strconv.ParseFloat(fields[1], 64)
		if errLng != nil || errLat != nil || !isFinite(lng) || !isFinite(lat) {
			continue
		}
		ring = append(ring, LatLng{Lat: lat, Lng: lng})
	}

	if len(ring) > 1 && ring[len(ring)-1] == ring[0] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

// outerRingBody returns the text of the first coordinate list found at
// ringDepth. Parentheses nested deeper than that, such as stray wrappers
// around a single pair, stay in the body and are stripped by the caller.
func outerRingBody(text string, ringDepth int) (string, bool) {
	depth := 0
	start := -1
	for i, c := range text {
		switch c {
		case '(':
			depth++
			if depth == ringDepth && start < 0 {
				start = i + 1
			}
		case ')':
			if depth == ringDepth && start >= 0 {
				return text[start:i], true
			}
			depth--
			if depth <= 0 {
				return "", false
			}
		}
	}
	return "", false
}
