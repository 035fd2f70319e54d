package mods

import "os"

// stagedFile deletes the staged archive on cleanup unless the operation
// explicitly released it. Install and update own the staged file from the
// moment they're invoked: it must be deleted on every return path except the
// ones that hand it off (a successful move, or a ModConflict that keeps the
// file so the caller can retry it as an update).
type stagedFile struct {
	path     string
	released bool
}

func newStagedFile(path string) *stagedFile {
	return &stagedFile{path: path}
}

// release keeps the file on disk.
func (s *stagedFile) release() {
	s.released = true
}

// cleanup removes the file if it wasn't released. Intended for defer.
func (s *stagedFile) cleanup() {
	if !s.released {
		_ = os.Remove(s.path)
	}
}
