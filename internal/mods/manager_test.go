package mods

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
	"github.com/sirupsen/logrus"
)

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	workingDir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return NewManager(workingDir, logger), workingDir
}

func metadataFor(modID string) map[string]string {
	return map[string]string{
		metadataEntry: fmt.Sprintf("[[mods]]\nmodId = %q\n", modID),
	}
}

// stageMod writes a mod archive outside the mod directory, as the gateway
// would after receiving an upload.
func stageMod(t *testing.T, modID string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged-"+modID)
	writeModArchive(t, path, metadataFor(modID))
	return path
}

func TestInstall(t *testing.T) {
	manager, _ := testManager(t)
	staged := stageMod(t, "examplemod")

	info, err := manager.Install(staged, "ExampleMod-1.0")
	if err != nil {
		t.Fatalf("Install() returned error: %v", err)
	}

	if info.Filename != "ExampleMod-1.0.jar" {
		t.Errorf("Filename = %q, want %q", info.Filename, "ExampleMod-1.0.jar")
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Errorf("installed file missing: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged file still present after successful install")
	}
}

func TestInstallConflictKeepsStagedFile(t *testing.T) {
	manager, _ := testManager(t)

	if _, err := manager.Install(stageMod(t, "examplemod"), "first"); err != nil {
		t.Fatal(err)
	}

	staged := stageMod(t, "examplemod")
	original, err := os.ReadFile(staged)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := manager.Install(staged, "second"); !errors.Is(err, ErrModConflict) {
		t.Fatalf("Install() = %v, want ErrModConflict", err)
	}

	// The staged file must survive untouched so the caller can retry the
	// operation as an update.
	after, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("staged file gone after conflict: %v", err)
	}
	if diff := deep.Equal(original, after); diff != nil {
		t.Errorf("staged file changed across the conflict: %v", diff)
	}
}

func TestInstallFailureDeletesStagedFile(t *testing.T) {
	manager, _ := testManager(t)

	staged := filepath.Join(t.TempDir(), "staged-broken")
	if err := os.WriteFile(staged, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := manager.Install(staged, "broken"); err == nil {
		t.Fatal("Install() succeeded on a non-archive staged file")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged file survived a failed install")
	}
}

func TestInstallDeduplicatesFilenames(t *testing.T) {
	manager, _ := testManager(t)

	wantNames := []string{"mod.jar", "mod-2.jar", "mod-3.jar"}
	for i, want := range wantNames {
		staged := stageMod(t, fmt.Sprintf("mod%d", i))
		info, err := manager.Install(staged, "mod")
		if err != nil {
			t.Fatalf("install %d returned error: %v", i, err)
		}
		if info.Filename != want {
			t.Errorf("install %d filename = %q, want %q", i, info.Filename, want)
		}
	}

	// All three files must coexist; a colliding name never overwrites an
	// unrelated mod.
	mods, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 3 {
		t.Errorf("List() returned %d mods, want 3", len(mods))
	}
}

func TestUpdate(t *testing.T) {
	manager, _ := testManager(t)

	installed, err := manager.Install(stageMod(t, "examplemod"), "old-name")
	if err != nil {
		t.Fatal(err)
	}

	updated, err := manager.Update(stageMod(t, "examplemod"), "new-name")
	if err != nil {
		t.Fatalf("Update() returned error: %v", err)
	}

	if updated.Filename != "new-name.jar" {
		t.Errorf("Filename = %q, want %q", updated.Filename, "new-name.jar")
	}
	if _, err := os.Stat(installed.Path); !os.IsNotExist(err) {
		t.Error("old mod file survived the update")
	}

	mods, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 1 {
		t.Errorf("List() returned %d mods after update, want 1", len(mods))
	}
}

func TestUpdateUnknownMod(t *testing.T) {
	manager, _ := testManager(t)

	staged := stageMod(t, "neverinstalled")
	if _, err := manager.Update(staged, "whatever"); !errors.Is(err, ErrNoSuchMod) {
		t.Fatalf("Update() = %v, want ErrNoSuchMod", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged file survived a failed update")
	}
}

func TestUninstall(t *testing.T) {
	manager, _ := testManager(t)

	installed, err := manager.Install(stageMod(t, "examplemod"), "mod")
	if err != nil {
		t.Fatal(err)
	}

	removed, err := manager.Uninstall("examplemod")
	if err != nil {
		t.Fatalf("Uninstall() returned error: %v", err)
	}
	if removed.ModID != "examplemod" {
		t.Errorf("removed ModID = %q, want examplemod", removed.ModID)
	}
	if _, err := os.Stat(installed.Path); !os.IsNotExist(err) {
		t.Error("mod file survived uninstall")
	}

	if _, err := manager.Uninstall("examplemod"); !errors.Is(err, ErrNoSuchMod) {
		t.Errorf("second Uninstall() = %v, want ErrNoSuchMod", err)
	}
}

func TestQuery(t *testing.T) {
	manager, _ := testManager(t)
	if _, err := manager.Install(stageMod(t, "examplemod"), "mod"); err != nil {
		t.Fatal(err)
	}

	info, err := manager.Query("examplemod")
	if err != nil {
		t.Fatalf("Query() returned error: %v", err)
	}
	if info.ModID != "examplemod" {
		t.Errorf("ModID = %q, want examplemod", info.ModID)
	}

	if _, err := manager.Query("missing"); !errors.Is(err, ErrNoSuchMod) {
		t.Errorf("Query(missing) = %v, want ErrNoSuchMod", err)
	}
}

func TestListSkipsUnparseableArchives(t *testing.T) {
	manager, _ := testManager(t)
	dir, err := manager.Dir()
	if err != nil {
		t.Fatal(err)
	}

	writeModArchive(t, filepath.Join(dir, "good.jar"), metadataFor("goodmod"))
	if err := os.WriteFile(filepath.Join(dir, "bad.jar"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a mod"), 0644); err != nil {
		t.Fatal(err)
	}

	mods, err := manager.List()
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(mods) != 1 || mods[0].ModID != "goodmod" {
		t.Errorf("List() = %+v, want just goodmod", mods)
	}
}

func TestPage(t *testing.T) {
	manager, _ := testManager(t)
	dir, err := manager.Dir()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		writeModArchive(t, filepath.Join(dir, id+".jar"), metadataFor(id))
	}

	tests := map[string]struct {
		pageSize  uint64
		pageIndex uint64
		wantIDs   []string
		wantLast  bool
	}{
		"everything with page size zero": {
			pageSize: 0, pageIndex: 0,
			wantIDs:  []string{"alpha", "bravo", "charlie", "delta", "echo"},
			wantLast: true,
		},
		"first full page":  {pageSize: 2, pageIndex: 0, wantIDs: []string{"alpha", "bravo"}},
		"middle full page": {pageSize: 2, pageIndex: 1, wantIDs: []string{"charlie", "delta"}},
		"short final page": {pageSize: 2, pageIndex: 2, wantIDs: []string{"echo"}, wantLast: true},
		"past the end":     {pageSize: 2, pageIndex: 3, wantIDs: []string{}, wantLast: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			page, lastPage, err := manager.Page(tt.pageSize, tt.pageIndex)
			if err != nil {
				t.Fatalf("Page() returned error: %v", err)
			}

			gotIDs := make([]string, 0, len(page))
			for _, info := range page {
				gotIDs = append(gotIDs, info.ModID)
			}
			if diff := deep.Equal(tt.wantIDs, gotIDs); diff != nil {
				t.Errorf("page contents mismatch: %v", diff)
			}
			if lastPage != tt.wantLast {
				t.Errorf("lastPage = %v, want %v", lastPage, tt.wantLast)
			}
		})
	}
}
