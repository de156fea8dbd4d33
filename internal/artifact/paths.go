package artifact

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPrefix namespaces narration audio inside the store.
const DefaultPrefix = "public/audio"

// HashedPath is where the artifact for an item at a given fingerprint lives.
func HashedPath(prefix string, id int64, hash string) string {
	return path.Join(cleanPrefix(prefix), fmt.Sprintf("item-%d-%s.mp3", id, hash))
}

// LegacyPath is the unhashed location used before fingerprints existed. It is
// only consulted for cleanup.
func LegacyPath(prefix string, id int64) string {
	return path.Join(cleanPrefix(prefix), fmt.Sprintf("item-%d.mp3", id))
}

var hashedName = regexp.MustCompile(`^item-(\d+)-([0-9a-f]{16})\.mp3$`)

// ParseHashedPath extracts the item id and fingerprint from a hashed path.
func ParseHashedPath(p string) (id int64, hash string, ok bool) {
	m := hashedName.FindStringSubmatch(path.Base(p))
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, m[2], true
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// validKey rejects keys that could escape the store root.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("absolute path")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("path traversal")
		}
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
