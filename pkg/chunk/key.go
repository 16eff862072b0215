package chunk

import (
	"fmt"
	"strings"
	"time"
)

// KeySuffix terminates every chunk object key.
const KeySuffix = ".chunk"

// ObjectKey builds the canonical object key for a chunk:
//
//	{prefix}/{stream}/{subject}/{yyyy}/{mm}/{dd}/{start_nanos}-{seq}.chunk
//
// The date components come from the first record's timestamp in UTC.
// An empty prefix drops the leading path segment. Subject wildcards are
// replaced so the key stays portable across object stores.
func ObjectKey(prefix, stream, subject string, start time.Time, seq int64) string {
	start = start.UTC()

	parts := make([]string, 0, 7)
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	parts = append(parts,
		sanitizeToken(stream),
		sanitizeToken(subject),
		fmt.Sprintf("%04d", start.Year()),
		fmt.Sprintf("%02d", start.Month()),
		fmt.Sprintf("%02d", start.Day()),
		fmt.Sprintf("%d-%d%s", start.UnixNano(), seq, KeySuffix),
	)

	return strings.Join(parts, "/")
}

// sanitizeToken makes a stream or subject safe for use as a key segment.
func sanitizeToken(s string) string {
	return strings.NewReplacer("*", "_", ">", "_", "/", "_").Replace(s)
}
