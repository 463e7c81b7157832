package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"go.uber.org/zap"
)

// artifact is an upload moved into the tenant's area and inspected
type artifact struct {
	Path    string
	Pkg     string
	Version string
	URL     string
	Hash    string
}

// ingest moves a staged upload into the caller's area and reads its package
// id and version. The moved file is removed again when inspection fails.
// url is kept when set, otherwise the file's public URL is used.
func (s *Service) ingest(ctx context.Context, caller tenant.Caller, stagingPath, url string) (*artifact, error) {
	owner, err := s.getTenant(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}

	path, err := s.files.MoveIncomingFile(owner, stagingPath)
	if err != nil {
		s.logger.Error("could not move the uploaded file",
			zap.String("tenant_id", caller.TenantID.String()),
			zap.String("path", stagingPath),
			zap.Error(err))
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}

	info, err := s.inspector.Inspect(ctx, path)
	if err != nil {
		s.files.DeleteFile(path)
		return nil, err
	}

	hash, err := s.hashFile(path)
	if err != nil {
		s.logger.Warn("could not hash artifact", zap.String("path", path), zap.Error(err))
	}

	if url == "" {
		url = s.files.PublicURL(owner, path)
	}

	s.logger.Debug("artifact ingested",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("package", info.Pkg),
		zap.String("version", info.Version),
		zap.String("path", path))

	return &artifact{
		Path:    path,
		Pkg:     info.Pkg,
		Version: info.Version,
		URL:     url,
		Hash:    hash,
	}, nil
}

func (s *Service) hashFile(path string) (string, error) {
	f, err := s.files.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// deleteArtifact removes the file behind a version's URL after commit. The
// URL is resolved against the area of the tenant owning the application.
func (s *Service) deleteArtifact(owner *models.Tenant, v *models.ApplicationVersion) {
	if owner == nil || v.URL == "" {
		return
	}
	path, ok := s.files.ResolveURLToLocalPath(owner, v.URL)
	if !ok {
		return
	}
	s.tasks.Submit("delete-artifact", func(ctx context.Context) error {
		if !s.files.DeleteFile(path) {
			s.logger.Warn("artifact file not deleted",
				zap.String("version_id", v.ID.String()),
				zap.String("path", path))
		}
		return nil
	})
}
