// Package mods implements the mod-archive lifecycle for a managed server:
// metadata parsing, listing, install/update/uninstall, and packaging the mod
// directory for upload to the asset service.
package mods

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pelletier/go-toml/v2"

	"github.com/wardenhost/warden/internal/protocol"
)

const (
	metadataEntry = "META-INF/mods.toml"
	manifestEntry = "META-INF/MANIFEST.MF"

	// jarVersionPlaceholder is substituted by build tooling; when it survives
	// into the archive the real version lives in the jar manifest.
	jarVersionPlaceholder = "${file.jarVersion}"
)

// modsFile mirrors the METADATA toml layout. Credits appears in the wild both
// as a plain string and as a list of strings, so it's decoded loosely.
type modsFile struct {
	Mods []modEntry `toml:"mods"`
}

type modEntry struct {
	ModID       string `toml:"modId"`
	Version     string `toml:"version"`
	DisplayName string `toml:"displayName"`
	LogoFile    string `toml:"logoFile"`
	Description string `toml:"description"`
	DisplayURL  string `toml:"displayURL"`
	Credits     any    `toml:"credits"`
	Authors     string `toml:"authors"`
}

// Parser extracts ModInfo from mod archives, caching results keyed by the
// file's path, size, and modification time so repeated listings don't re-read
// every archive.
type Parser struct {
	cache *gocache.Cache
}

func NewParser() *Parser {
	return &Parser{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Parse reads the archive's metadata and returns the mod's identity and
// display information.
func (p *Parser) Parse(path string) (protocol.ModInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.ModInfo{}, fmt.Errorf("stat mod archive: %w", err)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if cached, ok := p.cache.Get(key); ok {
		return cached.(protocol.ModInfo), nil
	}

	parsed, err := Parse(path)
	if err != nil {
		return protocol.ModInfo{}, err
	}

	p.cache.Set(key, parsed, gocache.NoExpiration)
	return parsed, nil
}

// Parse extracts a mod archive's metadata without caching. The archive must
// contain metadata for exactly one mod.
func Parse(path string) (protocol.ModInfo, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return protocol.ModInfo{}, fmt.Errorf("failed to parse zip file: %w", err)
	}
	defer archive.Close()

	metadata, err := readArchiveEntry(&archive.Reader, metadataEntry)
	if err != nil {
		return protocol.ModInfo{}, fmt.Errorf("couldn't find mod metadata: %w", err)
	}

	var parsed modsFile
	if err := toml.Unmarshal(metadata, &parsed); err != nil {
		return protocol.ModInfo{}, fmt.Errorf("failed to parse %s: %w", metadataEntry, err)
	}
	if len(parsed.Mods) != 1 {
		return protocol.ModInfo{}, fmt.Errorf(
			"expected to find metadata for 1 mod but found metadata for %d", len(parsed.Mods))
	}
	entry := parsed.Mods[0]
	if entry.ModID == "" {
		return protocol.ModInfo{}, errors.New("mod metadata is missing a modId")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return protocol.ModInfo{}, fmt.Errorf("couldn't canonicalize path: %w", err)
	}

	result := protocol.ModInfo{
		ModID:       entry.ModID,
		Filename:    filepath.Base(path),
		Path:        absPath,
		Name:        entry.DisplayName,
		Description: entry.Description,
		Version:     resolveVersion(&archive.Reader, entry.Version),
		URL:         entry.DisplayURL,
		Credits:     flattenCredits(entry.Credits),
		Authors:     splitAuthors(entry.Authors),
	}

	// Best effort; a missing or unreadable logo isn't an error.
	if entry.LogoFile != "" {
		if logo, err := readArchiveEntry(&archive.Reader, entry.LogoFile); err == nil {
			result.Logo = logo
		}
	}

	return result, nil
}

// resolveVersion substitutes the jar-manifest version when the metadata
// carries the build-time placeholder.
func resolveVersion(archive *zip.Reader, version string) string {
	if strings.TrimSpace(version) != jarVersionPlaceholder {
		return version
	}

	manifest, err := readArchiveEntry(archive, manifestEntry)
	if err != nil {
		return version
	}
	for _, line := range strings.Split(string(manifest), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Implementation-Version: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return version
}

func flattenCredits(credits any) string {
	switch v := credits.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func splitAuthors(authors string) []string {
	if authors == "" {
		return nil
	}
	parts := strings.Split(authors, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func readArchiveEntry(archive *zip.Reader, name string) ([]byte, error) {
	f, err := archive.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
