package storage

import (
	"path/filepath"
	"strings"
)

func localStorageFullpath(baseDir, bucket, key string) string {
	return filepath.Join(baseDir, bucket, filepath.FromSlash(key))
}

// objectKey joins a prefix and a relative file path into a slash separated key.
func objectKey(prefix, rel string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	rel = filepath.ToSlash(rel)
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
