package mods

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wardenhost/warden/internal/protocol"
)

var (
	// ErrModConflict indicates an install found a mod with the same id already
	// present. The staged file is intentionally left in place so the caller
	// can retry the operation as an update.
	ErrModConflict = errors.New("a mod with the same id is already installed")

	// ErrNoSuchMod indicates the requested mod id isn't present in the mod
	// directory.
	ErrNoSuchMod = errors.New("no such mod")
)

const archiveExt = ".jar"

// Manager owns the mod directory of one managed server. It is only ever
// driven from that server's worker goroutine, so it does no locking of its
// own.
type Manager struct {
	workingDir string
	parser     *Parser
	logger     logrus.FieldLogger
}

func NewManager(workingDir string, logger logrus.FieldLogger) *Manager {
	return &Manager{
		workingDir: workingDir,
		parser:     NewParser(),
		logger:     logger,
	}
}

// Dir returns the server's mod directory, creating it if needed.
func (m *Manager) Dir() (string, error) {
	dir := filepath.Join(m.workingDir, "mods")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating mods folder: %w", err)
	}
	return dir, nil
}

// List returns every parseable mod archive in the mod directory, sorted by
// mod id for stable pagination. Archives that fail to parse are logged and
// skipped rather than failing the listing.
func (m *Manager) List() ([]protocol.ModInfo, error) {
	dir, err := m.Dir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list mods directory: %w", err)
	}

	var mods []protocol.ModInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), archiveExt) {
			continue
		}

		info, err := m.parser.Parse(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.logger.Warnf("skipping unparseable mod archive %s: %v", entry.Name(), err)
			continue
		}
		mods = append(mods, info)
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].ModID < mods[j].ModID })
	return mods, nil
}

// Page returns one page of the sorted mod listing along with a flag marking
// the last page. A pageSize of 0 returns the full inventory.
func (m *Manager) Page(pageSize, pageIndex uint64) ([]protocol.ModInfo, bool, error) {
	mods, err := m.List()
	if err != nil {
		return nil, false, err
	}

	if pageSize == 0 {
		return mods, true, nil
	}

	offset := min(pageSize*pageIndex, uint64(len(mods)))
	end := min(offset+pageSize, uint64(len(mods)))

	page := mods[offset:end]
	lastPage := uint64(len(page)) < pageSize
	return page, lastPage, nil
}

// Query finds an installed mod by id.
func (m *Manager) Query(modID string) (protocol.ModInfo, error) {
	mods, err := m.List()
	if err != nil {
		return protocol.ModInfo{}, err
	}
	for _, info := range mods {
		if info.ModID == modID {
			return info, nil
		}
	}
	return protocol.ModInfo{}, ErrNoSuchMod
}

// Install moves a staged archive into the mod directory under preferredName.
// If a mod with the same id is already installed it returns ErrModConflict
// and leaves the staged file in place; on any other failure the staged file
// is deleted.
func (m *Manager) Install(stagedPath, preferredName string) (protocol.ModInfo, error) {
	staged := newStagedFile(stagedPath)
	defer staged.cleanup()

	dir, err := m.Dir()
	if err != nil {
		return protocol.ModInfo{}, err
	}

	toInstall, err := m.parser.Parse(stagedPath)
	if err != nil {
		return protocol.ModInfo{}, err
	}

	installed, err := m.List()
	if err != nil {
		return protocol.ModInfo{}, err
	}
	for _, existing := range installed {
		if existing.ModID == toInstall.ModID {
			// The caller may repurpose the staged file as an update.
			staged.release()
			return protocol.ModInfo{}, ErrModConflict
		}
	}

	destination := m.destinationPath(dir, preferredName)
	if err := os.Rename(stagedPath, destination); err != nil {
		return protocol.ModInfo{}, fmt.Errorf("failed to move mod: %w", err)
	}
	staged.release()

	toInstall.Path = destination
	toInstall.Filename = filepath.Base(destination)
	return toInstall, nil
}

// Update replaces an installed mod with the staged archive. The mod id must
// already be present; absence yields ErrNoSuchMod and deletes the staged
// file.
func (m *Manager) Update(stagedPath, preferredName string) (protocol.ModInfo, error) {
	staged := newStagedFile(stagedPath)
	defer staged.cleanup()

	dir, err := m.Dir()
	if err != nil {
		return protocol.ModInfo{}, err
	}

	toInstall, err := m.parser.Parse(stagedPath)
	if err != nil {
		return protocol.ModInfo{}, err
	}

	installed, err := m.List()
	if err != nil {
		return protocol.ModInfo{}, err
	}

	var existing *protocol.ModInfo
	for i := range installed {
		if installed[i].ModID == toInstall.ModID {
			existing = &installed[i]
			break
		}
	}
	if existing == nil {
		return protocol.ModInfo{}, ErrNoSuchMod
	}

	if err := os.Remove(existing.Path); err != nil {
		return protocol.ModInfo{}, fmt.Errorf("failed to remove old mod file: %w", err)
	}

	destination := m.destinationPath(dir, preferredName)
	if err := os.Rename(stagedPath, destination); err != nil {
		return protocol.ModInfo{}, fmt.Errorf("failed to move mod: %w", err)
	}
	staged.release()

	toInstall.Path = destination
	toInstall.Filename = filepath.Base(destination)
	return toInstall, nil
}

// Uninstall deletes the archive of the mod with the given id.
func (m *Manager) Uninstall(modID string) (protocol.ModInfo, error) {
	mods, err := m.List()
	if err != nil {
		return protocol.ModInfo{}, err
	}

	for _, info := range mods {
		if info.ModID == modID {
			if err := os.Remove(info.Path); err != nil {
				return protocol.ModInfo{}, fmt.Errorf("error deleting mod file: %w", err)
			}
			return info, nil
		}
	}
	return protocol.ModInfo{}, ErrNoSuchMod
}

// destinationPath normalizes the preferred filename and de-duplicates it with
// a numeric suffix if the name is already occupied. Identity is the mod id,
// so colliding filenames must never overwrite an unrelated mod.
func (m *Manager) destinationPath(dir, preferredName string) string {
	if !strings.HasSuffix(preferredName, archiveExt) {
		preferredName += archiveExt
	}

	destination := filepath.Join(dir, preferredName)
	base := strings.TrimSuffix(preferredName, archiveExt)
	for n := 2; ; n++ {
		if _, err := os.Stat(destination); os.IsNotExist(err) {
			return destination
		}
		destination = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, n, archiveExt))
	}
}
