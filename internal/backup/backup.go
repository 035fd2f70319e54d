// Package backup duplicates a managed server's working directory into a
// suffix-tagged sibling and restores it back, reporting progress as it goes.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Suffix tags the backup directory created next to a working directory.
const Suffix = ".bak"

// ErrNoBackup indicates a restore was requested but no backup directory
// exists for the working directory.
var ErrNoBackup = errors.New("no backup to restore")

// Progress is the cumulative copy state reported after each file.
type Progress struct {
	Copied uint64
	Total  uint64
}

type ProgressFunc func(Progress)

// Path returns the backup directory sibling of workingDir.
func Path(workingDir string) string {
	dir := filepath.Clean(workingDir)
	return filepath.Join(filepath.Dir(dir), filepath.Base(dir)+Suffix)
}

// Run deletes any pre-existing backup of workingDir, recreates it, and copies
// the full working tree into it. A single file failure aborts the whole
// operation; partial copies are not rolled back.
func Run(workingDir string, progress ProgressFunc) error {
	backupDir := Path(workingDir)

	// Don't care whether it existed, only that it's gone now.
	_ = os.RemoveAll(backupDir)
	if info, err := os.Stat(backupDir); err == nil && info.IsDir() {
		return errors.New("couldn't delete old backup directory")
	}

	if err := os.Mkdir(backupDir, 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	if err := CopyDir(workingDir, backupDir, progress); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Restore deletes the working directory, recreates it, and copies the backup
// tree back into it. Returns ErrNoBackup if no backup directory exists.
func Restore(workingDir string, progress ProgressFunc) error {
	backupDir := Path(workingDir)

	if info, err := os.Stat(backupDir); err != nil || !info.IsDir() {
		return ErrNoBackup
	}

	if err := os.RemoveAll(workingDir); err != nil {
		return fmt.Errorf("removing working directory: %w", err)
	}
	if err := os.Mkdir(workingDir, 0755); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}

	if err := CopyDir(backupDir, workingDir, progress); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// CopyDir recursively copies every file under src into dst, invoking progress
// with cumulative bytes copied against the precomputed total after each file.
// Symbolic links inside the tree are a hard error, not silently skipped.
func CopyDir(src, dst string, progress ProgressFunc) error {
	total, err := DirSize(src)
	if err != nil {
		return fmt.Errorf("sizing source directory: %w", err)
	}

	var copied uint64
	return copyDirRecursive(src, dst, progress, total, &copied)
}

// DirSize returns the total size in bytes of every regular file under path.
func DirSize(path string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}

func copyDirRecursive(src, dst string, progress ProgressFunc, total uint64, copied *uint64) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return errors.New("source directory doesn't exist")
	}
	if info, err := os.Stat(dst); err == nil && !info.IsDir() {
		return errors.New("destination directory is actually a file")
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("opening directory: %w", err)
	}

	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			return fmt.Errorf("symbolic link %s is not supported", from)

		case entry.Type().IsRegular():
			size, err := copyFile(from, to)
			if err != nil {
				return fmt.Errorf("copying file from %s to %s: %w", from, to, err)
			}
			*copied += size
			if progress != nil {
				progress(Progress{Copied: *copied, Total: total})
			}

		case entry.IsDir():
			if err := copyDirRecursive(from, to, progress, total, copied); err != nil {
				return fmt.Errorf("copying sub-directory %s: %w", from, err)
			}

		default:
			return fmt.Errorf("unsupported file type for %s", from)
		}
	}

	return nil
}

func copyFile(from, to string) (uint64, error) {
	in, err := os.Open(from)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return uint64(n), out.Close()
}
