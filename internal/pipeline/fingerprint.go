package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/lexclass/internal/builder"
)

// Fingerprint hashes the category, name, size and modification time of
// every document. Two scans of an untouched corpus agree; adding, removing,
// moving or rewriting a document changes the result.
func Fingerprint(docs []builder.Document) (string, error) {
	var sb strings.Builder
	for _, d := range docs {
		info, err := os.Stat(d.Path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", d.Path, err)
		}
		fmt.Fprintf(&sb, "%s\x00%s\x00%d\x00%d\n", d.Category, d.Filename, info.Size(), info.ModTime().UnixNano())
	}
	return ContentHashHex([]byte(sb.String())), nil
}
