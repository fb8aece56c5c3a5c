package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/usd-asset-library/backend/internal/http/response"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/services"
)

const (
	defaultMaxUploadBytes = 2 << 30
	multipartMemory       = 32 << 20
)

type AssetHandler struct {
	log            *logger.Logger
	query          services.QueryService
	versioning     services.VersioningService
	checkout       services.CheckoutService
	upload         services.UploadService
	download       services.DownloadService
	maxUploadBytes int64
}

type AssetHandlerDeps struct {
	Log            *logger.Logger
	Query          services.QueryService
	Versioning     services.VersioningService
	Checkout       services.CheckoutService
	Upload         services.UploadService
	Download       services.DownloadService
	MaxUploadBytes int64
}

func NewAssetHandler(deps AssetHandlerDeps) *AssetHandler {
	limit := deps.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	return &AssetHandler{
		log:            deps.Log.With("handler", "AssetHandler"),
		query:          deps.Query,
		versioning:     deps.Versioning,
		checkout:       deps.Checkout,
		upload:         deps.Upload,
		download:       deps.Download,
		maxUploadBytes: limit,
	}
}

func dbcOf(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.KindInvalidArgument), fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// GET /api/assets?search=&author=&checkedInOnly=&sortBy=
func (h *AssetHandler) ListAssets(c *gin.Context) {
	checkedInOnly, err := parseBool(c.Query("checkedInOnly"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out, err := h.query.ListAssets(dbcOf(c), services.ListAssetsParams{
		Search:        c.Query("search"),
		Author:        c.Query("author"),
		CheckedInOnly: checkedInOnly,
		SortBy:        c.DefaultQuery("sortBy", services.SortByUpdated),
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/assets/:name
func (h *AssetHandler) GetAsset(c *gin.Context) {
	out, err := h.query.GetAsset(dbcOf(c), c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": out})
}

// POST /api/assets/:name/metadata
func (h *AssetHandler) PostMetadata(c *gin.Context) {
	var body registerBody
	if !bindJSON(c, &body) {
		return
	}
	in, err := body.toInput(c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	asset, err := h.versioning.RegisterAsset(dbcOf(c), in)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"asset": asset})
}

// PUT /api/assets/:name/metadata
func (h *AssetHandler) PutMetadata(c *gin.Context) {
	var body recordBody
	if !bindJSON(c, &body) {
		return
	}
	commit, err := body.Commit.toInput()
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out, err := h.versioning.RecordCommit(dbcOf(c), services.RecordCommitInput{
		AssetName: c.Param("name"),
		Commit:    commit,
		Versions:  body.VersionMap,
		Keywords:  body.Keywords,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"commit": out})
}

// GET /api/assets/:name/history
func (h *AssetHandler) History(c *gin.Context) {
	commits, err := h.versioning.GetHistory(dbcOf(c), c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"commits": commits})
}

// POST /api/assets/:name/checkout  body: {"pennkey": "..."}
func (h *AssetHandler) Checkout(c *gin.Context) {
	var body holderBody
	if !bindJSON(c, &body) {
		return
	}
	asset, err := h.checkout.Checkout(dbcOf(c), c.Param("name"), body.Pennkey)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": asset})
}

// POST /api/assets/:name/release  body: {"pennkey": "..."}
func (h *AssetHandler) Release(c *gin.Context) {
	var body holderBody
	if !bindJSON(c, &body) {
		return
	}
	asset, err := h.checkout.Release(dbcOf(c), c.Param("name"), body.Pennkey)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": asset})
}

// POST /api/admin/assets/:name/release
func (h *AssetHandler) ForceRelease(c *gin.Context) {
	asset, err := h.checkout.ForceRelease(dbcOf(c), c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": asset})
}

// POST /api/assets/:name/upload
// multipart: metadata (JSON, same shape as POST metadata), files[], optional paths[]
func (h *AssetHandler) Upload(c *gin.Context) {
	form, ok := h.parseMultipart(c)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	var body registerBody
	if err := decodeFormJSON(form, "metadata", &body); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	in, err := body.toInput(c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	files, err := uploadFiles(form)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out, err := h.upload.CreateAsset(dbcOf(c), services.CreateAssetInput{Asset: in, Files: files})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, out)
}

// POST /api/assets/:name/checkin
// multipart: pennkey, metadata (JSON: commit, keywords, keepCheckedOut), files[], optional paths[]
func (h *AssetHandler) CheckIn(c *gin.Context) {
	form, ok := h.parseMultipart(c)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	var body checkInBody
	if err := decodeFormJSON(form, "metadata", &body); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	commit, err := body.Commit.toInput()
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	files, err := uploadFiles(form)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out, err := h.upload.CheckIn(dbcOf(c), services.CheckInInput{
		AssetName:      c.Param("name"),
		HolderKey:      formValue(form, "pennkey"),
		Commit:         commit,
		Keywords:       body.Keywords,
		Files:          files,
		KeepCheckedOut: body.KeepCheckedOut,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/assets/:name/download
func (h *AssetHandler) Download(c *gin.Context) {
	arc, err := h.download.OpenArchive(dbcOf(c), c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", arc.FileName()))
	c.Status(http.StatusOK)
	if err := h.download.WriteArchive(c.Request.Context(), arc, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *AssetHandler) parseMultipart(c *gin.Context) (*multipart.Form, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, string(apierr.KindInvalidArgument), err)
			return nil, false
		}
		response.RespondError(c, http.StatusBadRequest, string(apierr.KindInvalidArgument), fmt.Errorf("invalid multipart form: %w", err))
		return nil, false
	}
	return c.Request.MultipartForm, true
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func decodeFormJSON(form *multipart.Form, key string, dst any) error {
	raw := formValue(form, key)
	if raw == "" {
		return apierr.InvalidArgument("form field %q is required", key)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return apierr.New(apierr.KindInvalidArgument, err, "form field %q is not valid JSON", key)
	}
	return nil
}

// uploadFiles pairs files[i] with paths[i] when paths is sent; otherwise the
// client file name is the path relative to the asset root.
func uploadFiles(form *multipart.Form) ([]services.UploadFile, error) {
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, apierr.InvalidArgument("request missing files")
	}
	paths := form.Value["paths"]
	if len(paths) != 0 && len(paths) != len(headers) {
		return nil, apierr.InvalidArgument("got %d paths for %d files", len(paths), len(headers))
	}
	out := make([]services.UploadFile, 0, len(headers))
	for i, fh := range headers {
		fh := fh
		rel := fh.Filename
		if len(paths) > 0 {
			rel = strings.TrimSpace(paths[i])
		}
		out = append(out, services.UploadFile{
			RelPath: rel,
			Open: func() (io.ReadCloser, error) {
				f, err := fh.Open()
				if err != nil {
					return nil, err
				}
				return f, nil
			},
		})
	}
	return out, nil
}
