// Package files manages the per-tenant artifact area and the public URLs
// pointing into it. Layout on disk is <root>/<tenant files dir>/<file>; the
// matching public URL is <base URL>/files/<tenant files dir>/<file>.
package files

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/upb/mdm-catalog/models"
	"go.uber.org/zap"
)

// Area is the file capability used by the catalog engine
type Area interface {
	// MoveIncomingFile moves a staged upload into the tenant's area and
	// returns its final path
	MoveIncomingFile(tenant *models.Tenant, stagingPath string) (string, error)

	// CopyFile copies src to dst, creating parent directories
	CopyFile(src, dst string) error

	// ResolveURLToLocalPath maps a public URL inside the tenant's area to a path
	ResolveURLToLocalPath(tenant *models.Tenant, url string) (string, bool)

	// DeleteFile removes path and reports whether it did
	DeleteFile(path string) bool

	// PublicURL returns the public URL of a file stored in the tenant's area
	PublicURL(tenant *models.Tenant, path string) string

	// RelocateURL computes where a file referenced by url moves when its
	// ownership passes from one tenant to another
	RelocateURL(url string, from, to *models.Tenant) (*Relocation, bool)

	// MoveFile moves src to dst unless dst already exists or src is not a
	// regular file. It reports whether a move happened.
	MoveFile(src, dst string) (bool, error)

	// Open opens a stored file for reading
	Open(path string) (io.ReadCloser, error)
}

// Relocation describes one file move and the URL it results in
type Relocation struct {
	Source string
	Target string
	URL    string
}

// LocalArea implements Area on an afero filesystem rooted at root
type LocalArea struct {
	fs      afero.Fs
	root    string
	baseURL string
	logger  *zap.Logger
}

// NewLocalArea creates an area on the OS filesystem
func NewLocalArea(root, baseURL string, logger *zap.Logger) *LocalArea {
	return NewArea(afero.NewOsFs(), root, baseURL, logger)
}

// NewArea creates an area on fs
func NewArea(fs afero.Fs, root, baseURL string, logger *zap.Logger) *LocalArea {
	return &LocalArea{
		fs:      fs,
		root:    filepath.Clean(root),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Root returns the directory holding all tenant areas
func (a *LocalArea) Root() string {
	return a.root
}

// Ready reports whether the area root is a writable directory
func (a *LocalArea) Ready() error {
	info, err := a.fs.Stat(a.root)
	if err != nil {
		return fmt.Errorf("files area unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("files area root %s is not a directory", a.root)
	}
	probe, err := afero.TempFile(a.fs, a.root, ".ready-*")
	if err != nil {
		return fmt.Errorf("files area not writable: %w", err)
	}
	_ = probe.Close()
	return a.fs.Remove(probe.Name())
}

func (a *LocalArea) tenantDir(tenant *models.Tenant) string {
	return filepath.Join(a.root, tenant.FilesDir)
}

// MoveIncomingFile moves the staged file into the tenant's area, replacing
// any file with the same name
func (a *LocalArea) MoveIncomingFile(tenant *models.Tenant, stagingPath string) (string, error) {
	dir := a.tenantDir(tenant)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tenant directory: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(stagingPath))
	if err := a.fs.Rename(stagingPath, dst); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if copyErr := a.CopyFile(stagingPath, dst); copyErr != nil {
			return "", fmt.Errorf("failed to move incoming file: %w", copyErr)
		}
		if rmErr := a.fs.Remove(stagingPath); rmErr != nil {
			a.logger.Warn("could not remove staged file", zap.String("path", stagingPath), zap.Error(rmErr))
		}
	}

	a.logger.Debug("incoming file moved", zap.String("from", stagingPath), zap.String("to", dst))
	return dst, nil
}

// CopyFile copies src to dst
func (a *LocalArea) CopyFile(src, dst string) error {
	in, err := a.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if err := a.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := a.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close target: %w", err)
	}
	return nil
}

// ResolveURLToLocalPath maps url to a path when it points into the tenant's area
func (a *LocalArea) ResolveURLToLocalPath(tenant *models.Tenant, url string) (string, bool) {
	rel, ok := relativeToTenant(url, tenant)
	if !ok {
		return "", false
	}
	p := filepath.Join(a.root, filepath.FromSlash(rel))
	if !a.within(p) {
		return "", false
	}
	return p, true
}

// DeleteFile removes path
func (a *LocalArea) DeleteFile(path string) bool {
	if err := a.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		a.logger.Warn("could not delete file", zap.String("path", path), zap.Error(err))
		return false
	}
	a.logger.Debug("file deleted", zap.String("path", path))
	return true
}

// PublicURL returns the URL of a file stored in the tenant's area
func (a *LocalArea) PublicURL(tenant *models.Tenant, p string) string {
	return a.baseURL + "/files/" + tenant.FilesDir + "/" + filepath.Base(p)
}

// RelocateURL keeps the part of url from the source tenant's directory on
// and re-roots it under the target tenant's directory
func (a *LocalArea) RelocateURL(url string, from, to *models.Tenant) (*Relocation, bool) {
	rel, ok := relativeToTenant(url, from)
	if !ok {
		return nil, false
	}

	src := filepath.Join(a.root, filepath.FromSlash(rel))
	dst := filepath.Join(a.root, to.FilesDir, filepath.FromSlash(rel))
	if !a.within(src) || !a.within(dst) {
		return nil, false
	}

	return &Relocation{
		Source: src,
		Target: dst,
		URL:    a.baseURL + "/files/" + path.Join(to.FilesDir, rel),
	}, true
}

// MoveFile moves src to dst. An existing target, a missing source and a
// non-regular source are skips, not errors.
func (a *LocalArea) MoveFile(src, dst string) (bool, error) {
	if exists, err := afero.Exists(a.fs, dst); err != nil {
		return false, fmt.Errorf("failed to stat target: %w", err)
	} else if exists {
		a.logger.Debug("move target exists, skipping", zap.String("target", dst))
		return false, nil
	}

	info, err := a.fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("move source missing, skipping", zap.String("source", src))
			return false, nil
		}
		return false, fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		a.logger.Debug("move source is not a regular file, skipping", zap.String("source", src))
		return false, nil
	}

	if err := a.CopyFile(src, dst); err != nil {
		return false, err
	}
	if err := a.fs.Remove(src); err != nil {
		return true, fmt.Errorf("file copied but source not removed: %w", err)
	}
	return true, nil
}

// incomingDir holds uploads that have not been assigned to a tenant yet
const incomingDir = ".incoming"

// Stage writes an uploaded artifact to the incoming directory under a unique
// name and returns its path, ready for MoveIncomingFile.
func (a *LocalArea) Stage(name string, r io.Reader) (string, error) {
	dir := filepath.Join(a.root, incomingDir)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create incoming directory: %w", err)
	}

	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "upload.apk"
	}
	f, err := afero.TempFile(a.fs, dir, "*-"+base)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = a.fs.Remove(f.Name())
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = a.fs.Remove(f.Name())
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return f.Name(), nil
}

// Open opens a stored file for reading
func (a *LocalArea) Open(p string) (io.ReadCloser, error) {
	return a.fs.Open(p)
}

func (a *LocalArea) within(p string) bool {
	rel, err := filepath.Rel(a.root, filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relativeToTenant returns the slash path of url starting at the tenant's
// directory, e.g. "acme/app.apk" for ".../files/acme/app.apk".
func relativeToTenant(url string, tenant *models.Tenant) (string, bool) {
	if tenant == nil || tenant.FilesDir == "" {
		return "", false
	}
	marker := "/" + tenant.FilesDir + "/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return "", false
	}
	rel := path.Clean(url[idx+1:])
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}
