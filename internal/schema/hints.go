package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// LoadHints returns the hints whose site key matches domain, where either one
// contains the other. Sites are tried in document order. A missing file or no
// match returns nil.
func LoadHints(path, domain string) (*crawler.SiteHints, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hints %s: %w", path, err)
	}
	hints, err := ParseHints(data, domain)
	if err != nil {
		return nil, fmt.Errorf("parse hints %s: %w", path, err)
	}
	return hints, nil
}

// ParseHints is LoadHints over an in-memory document.
func ParseHints(data []byte, domain string) (*crawler.SiteHints, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}
	sites := mappingValue(root.Content[0], "sites")
	if sites == nil || sites.Kind != yaml.MappingNode {
		return nil, nil
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, nil
	}
	for i := 0; i+1 < len(sites.Content); i += 2 {
		key := strings.ToLower(strings.TrimSpace(sites.Content[i].Value))
		if key == "" || (!strings.Contains(domain, key) && !strings.Contains(key, domain)) {
			continue
		}
		var hints crawler.SiteHints
		if err := sites.Content[i+1].Decode(&hints); err != nil {
			return nil, fmt.Errorf("site %q: %w", key, err)
		}
		if hints.PaginationStrategy != "" && !hints.PaginationStrategy.Valid() {
			return nil, fmt.Errorf("site %q: unknown pagination strategy %q", key, hints.PaginationStrategy)
		}
		return &hints, nil
	}
	return nil, nil
}
