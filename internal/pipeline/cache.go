package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/distill-cli/internal/model"
)

// NormalizeKeyword folds case and Unicode form so "Café", "CAFÉ" and the
// decomposed "Café" share one cache entry.
func NormalizeKeyword(k string) string {
	return norm.NFKC.String(cases.Fold().String(strings.TrimSpace(k)))
}

// CacheKey identifies the pattern-cache entry for req: the data type plus a
// hash of its sorted, normalized, de-duplicated keywords.
func CacheKey(req model.GenerationRequest) string {
	kws := make([]string, 0, len(req.Keywords))
	for _, k := range req.Keywords {
		if n := NormalizeKeyword(k); n != "" {
			kws = append(kws, n)
		}
	}
	slices.Sort(kws)
	kws = slices.Compact(kws)

	sum := sha256.Sum256([]byte(strings.Join(kws, "\x00")))
	return string(req.DataType) + ":" + hex.EncodeToString(sum[:])
}
