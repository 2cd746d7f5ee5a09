package threatpipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// semanticHashLength is the length, in hex characters, of the truncated
// digest, per the GLOSSARY's "16-hex-character prefix" definition.
const semanticHashLength = 16

// SemanticHash computes the deterministic digest over a threat's
// identifying fields: level, type, the first 100 characters of summary,
// keywords, and locations rounded to 2 decimal places, per §3's Threat
// invariant. Keywords and rounded locations are sorted before hashing so
// that reordering the same set of values never changes the hash.
func SemanticHash(level, threatType, summary string, keywords []string, locations []Location) string {
	truncated := summary
	if len(truncated) > 100 {
		truncated = truncated[:100]
	}

	sortedKeywords := append([]string(nil), keywords...)
	sort.Strings(sortedKeywords)

	roundedLocs := make([]string, len(locations))
	for i, l := range locations {
		roundedLocs[i] = fmt.Sprintf("%.2f,%.2f", l.Lat, l.Lng)
	}
	sort.Strings(roundedLocs)

	payload := strings.Join([]string{
		level,
		threatType,
		truncated,
		strings.Join(sortedKeywords, "\x1e"),
		strings.Join(roundedLocs, "\x1e"),
	}, "\x1f")

	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])[:semanticHashLength]
}
