package mods

import (
	"archive/zip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/uuid"

	"github.com/wardenhost/warden/internal/backup"
)

func TestPackage(t *testing.T) {
	modsDir := t.TempDir()
	writeModArchive(t, filepath.Join(modsDir, "alpha.jar"), metadataFor("alpha"))
	writeModArchive(t, filepath.Join(modsDir, "bravo.jar"), metadataFor("bravo"))
	if err := os.WriteFile(filepath.Join(modsDir, "readme.txt"), []byte("skip me"), 0644); err != nil {
		t.Fatal(err)
	}

	packager := &Packager{
		Account:    "erin",
		Server:     "vanilla",
		ScratchDir: t.TempDir(),
	}

	var reports []backup.Progress
	zipPath, err := packager.Package(modsDir, func(p backup.Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("Package() returned error: %v", err)
	}
	if zipPath != packager.ZipPath() {
		t.Errorf("Package() wrote to %s, want %s", zipPath, packager.ZipPath())
	}

	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("packaged file isn't a readable zip: %v", err)
	}
	defer archive.Close()

	var names []string
	for _, f := range archive.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if diff := deep.Equal([]string{"alpha.jar", "bravo.jar"}, names); diff != nil {
		t.Errorf("zip contents mismatch: %v", diff)
	}

	if len(reports) != 2 {
		t.Errorf("got %d progress reports, want one per archived file (2)", len(reports))
	}
}

func TestZipPathIsStablePerServer(t *testing.T) {
	a := &Packager{Account: "erin", Server: "vanilla", ScratchDir: "/tmp"}
	b := &Packager{Account: "erin", Server: "modded", ScratchDir: "/tmp"}
	c := &Packager{Account: "sam", Server: "vanilla", ScratchDir: "/tmp"}

	if a.ZipPath() != (&Packager{Account: "erin", Server: "vanilla", ScratchDir: "/tmp"}).ZipPath() {
		t.Error("ZipPath() isn't stable across instances")
	}
	if a.ZipPath() == b.ZipPath() || a.ZipPath() == c.ZipPath() {
		t.Error("ZipPath() collides across servers or accounts")
	}
}

func TestUpload(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "mods.zip")
	if err := os.WriteFile(zipPath, []byte("zip bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	id := uuid.New()
	var gotAuth string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotBody, _ = io.ReadAll(file)

		io.WriteString(w, id.String())
	}))
	defer server.Close()

	packager := &Packager{
		Account:   "erin",
		Server:    "vanilla",
		AssetsURL: server.URL,
		Token:     "secret-token",
	}

	url, err := packager.Upload(zipPath)
	if err != nil {
		t.Fatalf("Upload() returned error: %v", err)
	}

	if want := server.URL + "/assets/mods/" + id.String(); url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if string(gotBody) != "zip bytes" {
		t.Errorf("uploaded body = %q, want original zip bytes", gotBody)
	}
}

func TestUploadRejectsBadResponses(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "mods.zip")
	if err := os.WriteFile(zipPath, []byte("zip bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := map[string]http.HandlerFunc{
		"unauthorized": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		},
		"not a uuid": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "thanks for the upload")
		},
	}

	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			packager := &Packager{AssetsURL: server.URL}
			if _, err := packager.Upload(zipPath); err == nil {
				t.Error("Upload() succeeded, want error")
			}
		})
	}
}
