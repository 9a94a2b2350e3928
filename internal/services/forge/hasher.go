// -----------------------------------------------------------------------
// Content Hasher - order-independent digest over a file set
// -----------------------------------------------------------------------

package forge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/chainwright/forge/internal/models"
)

// HashFiles computes a deterministic digest over the (path, content) pairs.
// Files are sorted by path before hashing, so submission order never changes
// the digest; any content or path change does. The digest keys the
// completed-job cache.
func HashFiles(files []models.SourceFile) string {
	sorted := make([]models.SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(f.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
