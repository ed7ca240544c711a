package custom

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

const (
	manifestURL = "https://raw.githubusercontent.com/franz/onetagger-platforms/master/platforms.json"
	downloadURL = "https://github.com/franz/onetagger-platforms/releases/download/platforms"
)

// ManifestEntry describes one downloadable platform plugin
type ManifestEntry struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Native  bool   `json:"native"`
	URL     string `json:"url,omitempty"`
}

// Manifest is the remote plugin index
type Manifest struct {
	Platforms []ManifestEntry `json:"platforms"`
}

// FetchManifest downloads the remote plugin index
func FetchManifest() (*Manifest, error) {
	var manifest Manifest
	resp, err := resty.New().SetTimeout(tagger.RequestTimeout).R().
		SetResult(&manifest).Get(manifestURL)
	if err != nil {
		return nil, &tagger.TransportError{Transient: true, Err: err}
	}
	if resp.StatusCode() != 200 {
		return nil, &tagger.TransportError{Transient: resp.StatusCode() >= 500,
			Err: fmt.Errorf("manifest fetch: status %d", resp.StatusCode())}
	}
	return &manifest, nil
}

// sharedObjectExt is the native plugin suffix for this OS
func sharedObjectExt() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// InstallPlatform downloads a plugin into the platforms directory.
// Native plugins are single shared objects; script plugins are ZIP
// archives extracted into platforms/<id>_<version>/.
func InstallPlatform(entry ManifestEntry) error {
	util.InfoLog("Installing platform %s@%s", entry.ID, entry.Version)

	dir, err := util.PlatformsFolder()
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s", entry.ID, entry.Version)
	source := entry.URL
	if source == "" {
		if entry.Native {
			source = fmt.Sprintf("%s/%s_%s_%s%s", downloadURL, name, runtime.GOOS, runtime.GOARCH, sharedObjectExt())
		} else {
			source = fmt.Sprintf("%s/%s.zip", downloadURL, name)
		}
	}

	resp, err := resty.New().SetTimeout(tagger.RequestTimeout).R().Get(source)
	if err != nil {
		return &tagger.TransportError{Transient: true, Err: err}
	}
	if resp.StatusCode() != 200 {
		return &tagger.TransportError{Transient: resp.StatusCode() >= 500,
			Err: fmt.Errorf("plugin download: status %d", resp.StatusCode())}
	}

	if entry.Native {
		return os.WriteFile(filepath.Join(dir, name+sharedObjectExt()), resp.Body(), 0o755)
	}
	return extractZip(resp.Body(), filepath.Join(dir, name))
}

// extractZip unpacks an archive under dest, refusing path traversal
func extractZip(data []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open plugin archive: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, f := range reader.File {
		target := filepath.Join(dest, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(out, src)
		src.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
