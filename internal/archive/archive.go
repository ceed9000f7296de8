// Package archive stores point-in-time copies of the access store outside
// the live data file.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Sink writes one archive object. Keys use forward slashes.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
	String() string
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty archive key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("archive key %q is absolute", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive key %q escapes the archive root", key)
	}
	return clean, nil
}
