package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/services/catalog"
	"github.com/upb/mdm-catalog/utils"
	"go.uber.org/zap"
)

// DefaultMaxUploadSize bounds multipart artifact uploads
const DefaultMaxUploadSize int64 = 512 << 20

// CatalogService defines the catalog operations exposed over HTTP
type CatalogService interface {
	ListApplications(ctx context.Context, caller tenant.Caller) ([]*models.Application, error)
	CreateOrResolveApplication(ctx context.Context, caller tenant.Caller, upload *catalog.ApplicationUpload) (*catalog.CreateResult, error)
	UpdateApplication(ctx context.Context, caller tenant.Caller, upd *catalog.ApplicationUpdate) (*models.Application, error)
	DeleteApplication(ctx context.Context, caller tenant.Caller, appID uuid.UUID) error
	GetApplicationVersions(ctx context.Context, caller tenant.Caller, appID uuid.UUID) ([]*models.ApplicationVersion, error)
	CreateApplicationVersion(ctx context.Context, caller tenant.Caller, appID uuid.UUID, upload *catalog.VersionUpload) (*models.ApplicationVersion, error)
	UpdateApplicationVersion(ctx context.Context, caller tenant.Caller, upd *catalog.VersionUpdate) (*models.ApplicationVersion, error)
	DeleteApplicationVersion(ctx context.Context, caller tenant.Caller, versionID uuid.UUID) error
	GetApplicationLinks(ctx context.Context, caller tenant.Caller, appID uuid.UUID) ([]*models.ApplicationConfigurationLink, error)
	UpdateApplicationLinks(ctx context.Context, caller tenant.Caller, appID uuid.UUID, changes []catalog.ApplicationLinkChange) error
	GetVersionLinks(ctx context.Context, caller tenant.Caller, versionID uuid.UUID) ([]*models.ApplicationVersionConfigurationLink, error)
	UpdateVersionLinks(ctx context.Context, caller tenant.Caller, versionID uuid.UUID, changes []catalog.VersionLinkChange) error
	PromoteToCommon(ctx context.Context, caller tenant.Caller, appID uuid.UUID) (*catalog.Promotion, error)
}

// Stager stores uploaded artifacts until the catalog takes them over
type Stager interface {
	Stage(name string, r io.Reader) (string, error)
	DeleteFile(path string) bool
}

// ResolutionRequest answers a previous decision
type ResolutionRequest struct {
	Choice        string `json:"choice" validate:"required,oneof=create_new change_package add_version"`
	ApplicationID string `json:"application_id" validate:"required_if=Choice add_version,omitempty,uuid"`
	Pkg           string `json:"pkg" validate:"required_if=Choice change_package,omitempty,pkg"`
}

// CreateApplicationRequest registers an upload. With a multipart body the
// JSON travels in the "data" part and the artifact in the "file" part; the
// package id and version are then read from the artifact.
type CreateApplicationRequest struct {
	Pkg        string             `json:"pkg" validate:"omitempty,pkg"`
	Name       string             `json:"name" validate:"max=255"`
	Version    string             `json:"version" validate:"max=100"`
	URL        string             `json:"url" validate:"omitempty,url"`
	ApkHash    string             `json:"apk_hash" validate:"omitempty,len=64,hexadecimal"`
	ShowIcon   *bool              `json:"show_icon"`
	System     bool               `json:"system"`
	Resolution *ResolutionRequest `json:"resolution"`
}

// UpdateApplicationRequest edits an application
type UpdateApplicationRequest struct {
	Pkg      string `json:"pkg" validate:"required,pkg"`
	Name     string `json:"name" validate:"required,max=255"`
	ShowIcon *bool  `json:"show_icon" validate:"required"`
	System   *bool  `json:"system"`
}

// CreateVersionRequest adds a version; multipart works as for applications
type CreateVersionRequest struct {
	Version string `json:"version" validate:"max=100"`
	URL     string `json:"url" validate:"omitempty,url"`
	ApkHash string `json:"apk_hash" validate:"omitempty,len=64,hexadecimal"`
}

// UpdateVersionRequest edits a version
type UpdateVersionRequest struct {
	Version            string `json:"version" validate:"required,max=100"`
	URL                string `json:"url" validate:"omitempty,url"`
	DeletionProhibited *bool  `json:"deletion_prohibited"`
}

// ApplicationLinkRequest is one configuration's desired link to an application
type ApplicationLinkRequest struct {
	ConfigurationID uuid.UUID  `json:"configuration_id" validate:"required"`
	Action          int        `json:"action" validate:"gte=0,lte=3"`
	VersionID       *uuid.UUID `json:"version_id"`
	AutoUpdate      bool       `json:"auto_update"`
}

// UpdateApplicationLinksRequest replaces application links per configuration
type UpdateApplicationLinksRequest struct {
	Links []ApplicationLinkRequest `json:"links" validate:"required,dive"`
}

// VersionLinkRequest is one configuration's desired link to a version
type VersionLinkRequest struct {
	ConfigurationID uuid.UUID `json:"configuration_id" validate:"required"`
	Action          int       `json:"action" validate:"gte=0,lte=3"`
}

// UpdateVersionLinksRequest replaces the caller's links to a version
type UpdateVersionLinksRequest struct {
	Links []VersionLinkRequest `json:"links" validate:"required,dive"`
}

// PendingUpload is the upload a decision is about. Clients send it back
// together with a resolution.
type PendingUpload struct {
	Pkg      string `json:"pkg"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	URL      string `json:"url"`
	ApkHash  string `json:"apk_hash,omitempty"`
	ShowIcon *bool  `json:"show_icon,omitempty"`
	System   bool   `json:"system"`
}

// DecisionResponse asks the client how to proceed with an upload
type DecisionResponse struct {
	Outcome     string                       `json:"outcome"`
	Application *models.Application          `json:"application"`
	Versions    []*models.ApplicationVersion `json:"versions"`
	Pending     PendingUpload                `json:"pending"`
	Choices     []string                     `json:"choices"`
}

// CreateApplicationResponse is either a created application or a decision
type CreateApplicationResponse struct {
	Application *models.Application        `json:"application,omitempty"`
	Version     *models.ApplicationVersion `json:"version,omitempty"`
	Decision    *DecisionResponse          `json:"decision,omitempty"`
}

// PromotionResponse reports a promotion
type PromotionResponse struct {
	Application *models.Application          `json:"application"`
	Versions    []*models.ApplicationVersion `json:"versions"`
	Merged      []uuid.UUID                  `json:"merged"`
}

// ApplicationHandler handles catalog HTTP requests
type ApplicationHandler struct {
	catalog       CatalogService
	stager        Stager
	maxUploadSize int64
	logger        *zap.Logger
}

// NewApplicationHandler creates a new ApplicationHandler
func NewApplicationHandler(svc CatalogService, stager Stager, logger *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{
		catalog:       svc,
		stager:        stager,
		maxUploadSize: DefaultMaxUploadSize,
		logger:        logger,
	}
}

// HandleListApplications handles GET /api/v1/applications
func (h *ApplicationHandler) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apps, err := h.catalog.ListApplications(ctx, tenant.FromContext(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, apps)
}

// HandleCreateApplication handles POST /api/v1/applications
func (h *ApplicationHandler) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := tenant.FromContext(ctx)

	var req CreateApplicationRequest
	staged, ok := h.readUpload(w, r, &req)
	if !ok {
		return
	}
	defer h.discard(staged)

	upload := &catalog.ApplicationUpload{
		Pkg:      req.Pkg,
		Name:     strings.TrimSpace(req.Name),
		Version:  req.Version,
		URL:      req.URL,
		FilePath: staged,
		ApkHash:  req.ApkHash,
		ShowIcon: req.ShowIcon,
		System:   req.System,
	}
	if req.Resolution != nil {
		res, err := toResolution(req.Resolution)
		if err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		upload.Resolution = res
	}

	result, err := h.catalog.CreateOrResolveApplication(ctx, caller, upload)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if result.Decision != nil {
		h.logger.Debug("decision returned",
			zap.String("request_id", chimw.GetReqID(ctx)),
			zap.String("outcome", result.Decision.Outcome.String()))
		_ = utils.WriteOK(w, CreateApplicationResponse{Decision: toDecisionResponse(result.Decision)})
		return
	}

	h.logger.Info("application registered",
		zap.String("request_id", chimw.GetReqID(ctx)),
		zap.String("application_id", result.Application.ID.String()),
		zap.String("version_id", result.Version.ID.String()))
	_ = utils.WriteCreated(w, CreateApplicationResponse{
		Application: result.Application,
		Version:     result.Version,
	})
}

// HandleUpdateApplication handles PUT /api/v1/applications/{id}
func (h *ApplicationHandler) HandleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateApplicationRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	app, err := h.catalog.UpdateApplication(ctx, tenant.FromContext(ctx), &catalog.ApplicationUpdate{
		ID:       appID,
		Name:     strings.TrimSpace(req.Name),
		Pkg:      req.Pkg,
		ShowIcon: *req.ShowIcon,
		System:   req.System,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, app)
}

// HandleDeleteApplication handles DELETE /api/v1/applications/{id}
func (h *ApplicationHandler) HandleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalog.DeleteApplication(ctx, tenant.FromContext(ctx), appID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleListVersions handles GET /api/v1/applications/{id}/versions
func (h *ApplicationHandler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.catalog.GetApplicationVersions(ctx, tenant.FromContext(ctx), appID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, versions)
}

// HandleCreateVersion handles POST /api/v1/applications/{id}/versions
func (h *ApplicationHandler) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateVersionRequest
	staged, ok := h.readUpload(w, r, &req)
	if !ok {
		return
	}
	defer h.discard(staged)

	v, err := h.catalog.CreateApplicationVersion(ctx, tenant.FromContext(ctx), appID, &catalog.VersionUpload{
		Version:  req.Version,
		URL:      req.URL,
		FilePath: staged,
		ApkHash:  req.ApkHash,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, v)
}

// HandleUpdateVersion handles PUT /api/v1/applications/versions/{versionId}
func (h *ApplicationHandler) HandleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, ok := parseIDParam(w, r, "versionId")
	if !ok {
		return
	}

	var req UpdateVersionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	v, err := h.catalog.UpdateApplicationVersion(ctx, tenant.FromContext(ctx), &catalog.VersionUpdate{
		ID:                 versionID,
		Version:            req.Version,
		URL:                req.URL,
		DeletionProhibited: req.DeletionProhibited,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, v)
}

// HandleDeleteVersion handles DELETE /api/v1/applications/versions/{versionId}
func (h *ApplicationHandler) HandleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, ok := parseIDParam(w, r, "versionId")
	if !ok {
		return
	}

	if err := h.catalog.DeleteApplicationVersion(ctx, tenant.FromContext(ctx), versionID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleGetApplicationLinks handles GET /api/v1/applications/{id}/configurations
func (h *ApplicationHandler) HandleGetApplicationLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	links, err := h.catalog.GetApplicationLinks(ctx, tenant.FromContext(ctx), appID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, links)
}

// HandleUpdateApplicationLinks handles PUT /api/v1/applications/{id}/configurations
func (h *ApplicationHandler) HandleUpdateApplicationLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateApplicationLinksRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	changes := make([]catalog.ApplicationLinkChange, len(req.Links))
	for i, l := range req.Links {
		changes[i] = catalog.ApplicationLinkChange{
			ConfigurationID: l.ConfigurationID,
			Action:          models.LinkAction(l.Action),
			VersionID:       l.VersionID,
			AutoUpdate:      l.AutoUpdate,
		}
	}

	if err := h.catalog.UpdateApplicationLinks(ctx, tenant.FromContext(ctx), appID, changes); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleGetVersionLinks handles GET /api/v1/applications/versions/{versionId}/configurations
func (h *ApplicationHandler) HandleGetVersionLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, ok := parseIDParam(w, r, "versionId")
	if !ok {
		return
	}

	links, err := h.catalog.GetVersionLinks(ctx, tenant.FromContext(ctx), versionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, links)
}

// HandleUpdateVersionLinks handles PUT /api/v1/applications/versions/{versionId}/configurations
func (h *ApplicationHandler) HandleUpdateVersionLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID, ok := parseIDParam(w, r, "versionId")
	if !ok {
		return
	}

	var req UpdateVersionLinksRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	changes := make([]catalog.VersionLinkChange, len(req.Links))
	for i, l := range req.Links {
		changes[i] = catalog.VersionLinkChange{
			ConfigurationID: l.ConfigurationID,
			Action:          models.LinkAction(l.Action),
		}
	}

	if err := h.catalog.UpdateVersionLinks(ctx, tenant.FromContext(ctx), versionID, changes); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandlePromote handles POST /api/v1/applications/{id}/promote
func (h *ApplicationHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.catalog.PromoteToCommon(ctx, tenant.FromContext(ctx), appID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, PromotionResponse{
		Application: p.Application,
		Versions:    p.Versions,
		Merged:      p.Merged,
	})
}

// decodeJSON decodes and validates a JSON body into dst
func (h *ApplicationHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}
	return h.validate(w, r, dst)
}

func (h *ApplicationHandler) validate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.ValidateStruct(dst); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

// readUpload reads either a JSON body or a multipart body with an optional
// "file" part and a "data" part holding the JSON. A received file is staged
// and its path returned.
func (h *ApplicationHandler) readUpload(w http.ResponseWriter, r *http.Request, dst interface{}) (string, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return "", h.decodeJSON(w, r, dst)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, "", "Upload exceeds the size limit", nil)
			return "", false
		}
		_ = utils.WriteBadRequest(w, "Invalid multipart body", nil)
		return "", false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), dst); err != nil {
			_ = utils.WriteBadRequest(w, "Invalid data part", nil)
			return "", false
		}
	}
	if !h.validate(w, r, dst) {
		return "", false
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", true
	}
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid file part", nil)
		return "", false
	}
	defer file.Close()

	staged, err := h.stager.Stage(header.Filename, file)
	if err != nil {
		h.logger.Error("failed to stage upload",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("filename", header.Filename),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to store upload")
		return "", false
	}
	return staged, true
}

// discard removes a staged upload the catalog did not take over
func (h *ApplicationHandler) discard(staged string) {
	if staged != "" {
		h.stager.DeleteFile(staged)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func toResolution(req *ResolutionRequest) (*catalog.Resolution, error) {
	choice, ok := catalog.ParseChoice(req.Choice)
	if !ok {
		return nil, errors.New("unknown resolution choice")
	}
	res := &catalog.Resolution{Choice: choice, Pkg: req.Pkg}
	if req.ApplicationID != "" {
		if err := utils.ValidateUUID(req.ApplicationID); err != nil {
			return nil, errors.New("invalid resolution application_id")
		}
		res.ApplicationID = uuid.MustParse(req.ApplicationID)
	}
	return res, nil
}

func toDecisionResponse(d *catalog.Decision) *DecisionResponse {
	choices := make([]string, len(d.Choices))
	for i, c := range d.Choices {
		choices[i] = c.String()
	}
	return &DecisionResponse{
		Outcome:     d.Outcome.String(),
		Application: d.Application,
		Versions:    d.Versions,
		Pending: PendingUpload{
			Pkg:      d.Pending.Pkg,
			Name:     d.Pending.Name,
			Version:  d.Pending.Version,
			URL:      d.Pending.URL,
			ApkHash:  d.Pending.ApkHash,
			ShowIcon: d.Pending.ShowIcon,
			System:   d.Pending.System,
		},
		Choices: choices,
	}
}
