package mods

import (
	"archive/zip"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wardenhost/warden/internal/backup"
)

// Packager streams a server's mod directory into a deflate-compressed
// archive and pushes it to the external asset endpoint.
type Packager struct {
	Account string
	Server  string

	// AssetsURL is the base URL of the asset service; the upload endpoint is
	// AssetsURL + "/assets/mods".
	AssetsURL string
	Token     string

	// ScratchDir is where the packaged archive is written. Defaults to the
	// OS temp directory.
	ScratchDir string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// ZipPath returns the stable path of this server's packaged archive. The name
// encodes the owning account and server so concurrent packagers never clash.
func (p *Packager) ZipPath() string {
	dir := p.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := base64.RawURLEncoding.EncodeToString([]byte(p.Account + "/" + p.Server))
	return filepath.Join(dir, name+".zip")
}

// Package writes every mod archive under modsDir into a fresh zip file,
// reporting cumulative progress per file, and returns the zip's path.
func (p *Packager) Package(modsDir string, progress backup.ProgressFunc) (string, error) {
	total, err := backup.DirSize(modsDir)
	if err != nil {
		return "", fmt.Errorf("failed to get total mod folder size: %w", err)
	}

	zipPath := p.ZipPath()
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create zip file: %w", err)
	}
	defer zipFile.Close()

	archive := zip.NewWriter(zipFile)

	entries, err := os.ReadDir(modsDir)
	if err != nil {
		return "", fmt.Errorf("failed to list mods directory: %w", err)
	}

	var copied uint64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), archiveExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return "", fmt.Errorf("failed to get mod file metadata: %w", err)
		}

		w, err := archive.CreateHeader(&zip.FileHeader{
			Name:   entry.Name(),
			Method: zip.Deflate,
		})
		if err != nil {
			return "", fmt.Errorf("failed to add file to zip: %w", err)
		}

		modFile, err := os.Open(filepath.Join(modsDir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("failed to open mod file for reading: %w", err)
		}
		_, err = io.Copy(w, modFile)
		modFile.Close()
		if err != nil {
			return "", fmt.Errorf("failed to write mod file in the zip archive: %w", err)
		}

		copied += uint64(info.Size())
		if progress != nil {
			progress(backup.Progress{Copied: copied, Total: total})
		}
	}

	if err := archive.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize zip file: %w", err)
	}
	return zipPath, zipFile.Close()
}

// Upload posts the packaged archive to the asset endpoint and returns the
// retrieval URL. The endpoint answers a successful upload with an opaque
// UUID; anything else is an error.
func (p *Packager) Upload(zipPath string) (string, error) {
	zipFile, err := os.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to read mods zip file: %w", err)
	}
	defer zipFile.Close()

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(zipPath))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := io.Copy(part, zipFile); err != nil {
		return "", fmt.Errorf("failed to read mods zip file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	endpoint := p.AssetsURL + "/assets/mods"
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.Token)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post mods zip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to post mods zip: %s", resp.Status)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	id, err := uuid.Parse(strings.TrimSpace(string(responseBody)))
	if err != nil {
		return "", fmt.Errorf("response body wasn't a UUID: %w", err)
	}

	return fmt.Sprintf("%s/assets/mods/%s", p.AssetsURL, id), nil
}
