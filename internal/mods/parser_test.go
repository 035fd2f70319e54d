package mods

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wardenhost/warden/internal/protocol"
)

// writeModArchive builds a mod archive at path containing the given entries.
func writeModArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, contents := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write([]byte(contents)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

const exampleMetadata = `
[[mods]]
modId = "examplemod"
version = "1.2.3"
displayName = "Example Mod"
description = "Does example things."
displayURL = "https://example.com/mod"
credits = "the example team"
authors = "Erin, Sam"
`

func TestParse(t *testing.T) {
	tests := map[string]struct {
		entries map[string]string
		want    protocol.ModInfo
		wantErr bool
	}{
		"complete metadata": {
			entries: map[string]string{metadataEntry: exampleMetadata},
			want: protocol.ModInfo{
				ModID:       "examplemod",
				Name:        "Example Mod",
				Description: "Does example things.",
				Version:     "1.2.3",
				URL:         "https://example.com/mod",
				Credits:     "the example team",
				Authors:     []string{"Erin", "Sam"},
			},
		},
		"credits as a list": {
			entries: map[string]string{metadataEntry: `
[[mods]]
modId = "listcredits"
credits = ["one", "two"]
`},
			want: protocol.ModInfo{ModID: "listcredits", Credits: "one, two"},
		},
		"version placeholder resolved from the jar manifest": {
			entries: map[string]string{
				metadataEntry: `
[[mods]]
modId = "manifestversion"
version = "${file.jarVersion}"
`,
				manifestEntry: "Manifest-Version: 1.0\nImplementation-Version: 4.5.6\n",
			},
			want: protocol.ModInfo{ModID: "manifestversion", Version: "4.5.6"},
		},
		"version placeholder without a manifest stays put": {
			entries: map[string]string{metadataEntry: `
[[mods]]
modId = "nomanifest"
version = "${file.jarVersion}"
`},
			want: protocol.ModInfo{ModID: "nomanifest", Version: "${file.jarVersion}"},
		},
		"logo embedded": {
			entries: map[string]string{
				metadataEntry: `
[[mods]]
modId = "logomod"
logoFile = "logo.png"
`,
				"logo.png": "png bytes",
			},
			want: protocol.ModInfo{ModID: "logomod", Logo: []byte("png bytes")},
		},
		"missing metadata": {
			entries: map[string]string{"some/other/file.class": "bytecode"},
			wantErr: true,
		},
		"missing mod id": {
			entries: map[string]string{metadataEntry: "[[mods]]\ndisplayName = \"anonymous\"\n"},
			wantErr: true,
		},
		"metadata for two mods": {
			entries: map[string]string{metadataEntry: `
[[mods]]
modId = "first"
[[mods]]
modId = "second"
`},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mod.jar")
			writeModArchive(t, path, tt.entries)

			got, err := Parse(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() returned error: %v", err)
			}

			// Path and Filename depend on the temp dir.
			ignore := cmpopts.IgnoreFields(protocol.ModInfo{}, "Path", "Filename")
			if diff := cmp.Diff(tt.want, got, ignore); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
			if got.Filename != "mod.jar" {
				t.Errorf("Filename = %q, want %q", got.Filename, "mod.jar")
			}
		})
	}
}

func TestParseNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.jar")
	if err := os.WriteFile(path, []byte("definitely not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(path); err == nil {
		t.Error("Parse() succeeded on a non-archive file")
	}
}

func TestParserCacheInvalidatesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod.jar")
	writeModArchive(t, path, map[string]string{metadataEntry: "[[mods]]\nmodId = \"v1\"\n"})

	parser := NewParser()
	first, err := parser.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.ModID != "v1" {
		t.Fatalf("ModID = %q, want v1", first.ModID)
	}

	// Replace the archive; the different size busts the cache key even when
	// the mtime granularity is coarse.
	writeModArchive(t, path, map[string]string{
		metadataEntry: "[[mods]]\nmodId = \"v2\"\ndisplayName = \"longer now\"\n",
	})

	second, err := parser.Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if second.ModID != "v2" {
		t.Errorf("ModID = %q after replacement, want v2", second.ModID)
	}
}
