package auth

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sydlexius/pushhook/internal/filesystem"
)

var basePathRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// serverMeta is the server-meta.json document.
type serverMeta struct {
	BasePath   string    `json:"basePath"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	FromConfig bool      `json:"fromConfig"`
}

// BasePathResult reports the admin path segment in effect.
type BasePathResult struct {
	BasePath   string
	Created    bool
	FromConfig bool
}

// SanitizeBasePath trims surrounding slashes and returns "" when the rest is
// not a single URL-safe segment.
func SanitizeBasePath(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if !basePathRe.MatchString(s) {
		return ""
	}
	return s
}

// EnsureBasePath resolves the secret admin path segment. A valid configured
// path wins and is persisted; otherwise the stored one is reused, and when
// none exists a random panel_<18> segment is generated and stored.
func EnsureBasePath(metaPath, configured string) (BasePathResult, error) {
	var meta serverMeta
	if _, err := filesystem.ReadJSON(metaPath, &meta); err != nil {
		return BasePathResult{}, fmt.Errorf("reading server metadata: %w", err)
	}
	stored := SanitizeBasePath(meta.BasePath)

	if cfg := SanitizeBasePath(configured); cfg != "" {
		if cfg == stored && meta.FromConfig {
			return BasePathResult{BasePath: cfg, FromConfig: true}, nil
		}
		if err := writeMeta(metaPath, cfg, true); err != nil {
			return BasePathResult{}, err
		}
		return BasePathResult{BasePath: cfg, Created: true, FromConfig: true}, nil
	}

	if stored != "" {
		return BasePathResult{BasePath: stored, FromConfig: meta.FromConfig}, nil
	}

	suffix, err := randomString(18)
	if err != nil {
		return BasePathResult{}, err
	}
	base := "panel_" + suffix
	if err := writeMeta(metaPath, base, false); err != nil {
		return BasePathResult{}, err
	}
	return BasePathResult{BasePath: base, Created: true}, nil
}

func writeMeta(path, base string, fromConfig bool) error {
	meta := serverMeta{BasePath: base, CreatedAt: time.Now().UTC(), FromConfig: fromConfig}
	if err := filesystem.WriteJSON(path, meta, 0o600); err != nil {
		return fmt.Errorf("writing server metadata: %w", err)
	}
	return nil
}
