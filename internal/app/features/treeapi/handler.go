// Package treeapi provides the JSON API for importing source-code
// structures and working with their file trees.
//
// Endpoints (mounted at /api):
//   - POST /import/github, /import/zip, /import/local - Ingest a tree
//   - GET /tree/{rootID} - Rebuild the nested tree for a root folder
//   - GET /node/{id}/content - Fetch one file's content
//   - PUT /node/{id}/name, DELETE /node/{id} - Mutate nodes
//   - GET/POST /source-codes, GET /source-codes/{id}[/nodes] - Records
package treeapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/codestrata/internal/app/store/node"
	"github.com/dalemusser/codestrata/internal/app/store/sourcecode"
	"github.com/dalemusser/codestrata/internal/app/system/filetree"
	"github.com/dalemusser/codestrata/internal/app/system/importer"
	"github.com/dalemusser/codestrata/internal/app/system/jsonutil"
	"github.com/dalemusser/codestrata/internal/app/system/treeops"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// maxZipUpload bounds uploaded archive size (64 MB).
const maxZipUpload = 64 << 20

// Handler handles tree API requests.
type Handler struct {
	importer *importer.Importer
	builder  *filetree.Builder
	engine   *treeops.Engine
	nodes    *node.Store
	sources  *sourcecode.Store
	logger   *zap.Logger
}

// NewHandler creates a new treeapi handler.
func NewHandler(
	imp *importer.Importer,
	builder *filetree.Builder,
	engine *treeops.Engine,
	nodes *node.Store,
	sources *sourcecode.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		importer: imp,
		builder:  builder,
		engine:   engine,
		nodes:    nodes,
		sources:  sources,
		logger:   logger,
	}
}

// checkSourceCode validates an optional source_code_id. Returns false after
// writing the response when the id is set but unknown.
func (h *Handler) checkSourceCode(w http.ResponseWriter, r *http.Request, id string) bool {
	if id == "" {
		return true
	}
	ok, err := h.sources.Exists(r.Context(), id)
	if err != nil {
		h.logger.Error("source code lookup failed", zap.String("id", id), zap.Error(err))
		jsonutil.InternalError(w, "failed to verify source code")
		return false
	}
	if !ok {
		jsonutil.NotFound(w, "source code not found")
		return false
	}
	return true
}

// ImportGitHubHandler handles POST /import/github.
func (h *Handler) ImportGitHubHandler(w http.ResponseWriter, r *http.Request) {
	var req importGitHubRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if _, _, err := importer.ParseGitHubURL(req.RepoURL); err != nil {
		jsonutil.BadRequest(w, "repo_url must be a github repository url")
		return
	}
	if !h.checkSourceCode(w, r, req.SourceCodeID) {
		return
	}

	res, err := h.importer.ImportGitHub(r.Context(), req.RepoURL, req.Branch, req.SourceCodeID)
	if err != nil {
		if errors.Is(err, importer.ErrSourceUnavailable) {
			jsonutil.Error(w, http.StatusBadGateway, "repository could not be fetched")
			return
		}
		h.logger.Error("github import failed",
			zap.String("repo_url", req.RepoURL),
			zap.Error(err))
		jsonutil.InternalError(w, "import failed")
		return
	}
	jsonutil.Created(w, res)
}

// ImportZipHandler handles POST /import/zip. The archive arrives as the
// multipart field "file"; source_code_id is an optional form value.
func (h *Handler) ImportZipHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxZipUpload); err != nil {
		jsonutil.BadRequest(w, "expected multipart form with a file field")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		jsonutil.BadRequest(w, "missing file field")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxZipUpload+1))
	if err != nil {
		jsonutil.BadRequest(w, "failed to read upload")
		return
	}
	if len(data) > maxZipUpload {
		jsonutil.Error(w, http.StatusRequestEntityTooLarge, "archive too large")
		return
	}

	scID := r.FormValue("source_code_id")
	if !h.checkSourceCode(w, r, scID) {
		return
	}

	res, err := h.importer.ImportZip(r.Context(), data, hdr.Filename, scID)
	if err != nil {
		if errors.Is(err, importer.ErrSourceUnavailable) {
			jsonutil.BadRequest(w, "not a valid zip archive")
			return
		}
		h.logger.Error("zip import failed",
			zap.String("filename", hdr.Filename),
			zap.Error(err))
		jsonutil.InternalError(w, "import failed")
		return
	}
	jsonutil.Created(w, res)
}

// ImportLocalHandler handles POST /import/local.
func (h *Handler) ImportLocalHandler(w http.ResponseWriter, r *http.Request) {
	var req importLocalRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.RootName) == "" {
		jsonutil.BadRequest(w, "root_name is required")
		return
	}
	if len(req.Files) == 0 {
		jsonutil.BadRequest(w, "files must not be empty")
		return
	}
	if !h.checkSourceCode(w, r, req.SourceCodeID) {
		return
	}

	files := make([]importer.LocalFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, importer.LocalFile{
			Path:    f.Path,
			Content: f.Content,
			Size:    f.Size,
		})
	}

	res, err := h.importer.ImportLocal(r.Context(), req.RootName, files, req.SourceCodeID)
	if err != nil {
		h.logger.Error("local import failed",
			zap.String("root_name", req.RootName),
			zap.Error(err))
		jsonutil.InternalError(w, "import failed")
		return
	}
	jsonutil.Created(w, res)
}

// TreeHandler handles GET /tree/{rootID}.
//
// The optional strategy query parameter forces "bulk" (one metadata fetch)
// or "row" (one child per query with a per-row deadline); by default the
// builder picks by tree size.
func (h *Handler) TreeHandler(w http.ResponseWriter, r *http.Request) {
	rootID := chi.URLParam(r, "rootID")

	var (
		tree  *filetree.TreeNode
		stats *filetree.Stats
		err   error
	)
	switch strategy := r.URL.Query().Get("strategy"); strategy {
	case "bulk":
		tree, stats, err = h.builder.BuildBulk(r.Context(), rootID)
	case "row":
		tree, stats, err = h.builder.BuildRowByRow(r.Context(), rootID)
	case "":
		tree, stats, err = h.builder.Build(r.Context(), rootID)
	default:
		jsonutil.BadRequest(w, "strategy must be bulk or row")
		return
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.NotFound(w, "root folder not found")
			return
		}
		h.logger.Error("tree build failed",
			zap.String("root_id", rootID),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to build tree")
		return
	}
	jsonutil.OK(w, treeResponse{Tree: tree, Stats: stats})
}

// NodeContentHandler handles GET /node/{id}/content, the only read path
// that returns a node's content field.
func (h *Handler) NodeContentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.nodes.GetByID(r.Context(), id, true)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.NotFound(w, "node not found")
			return
		}
		h.logger.Error("node fetch failed", zap.String("id", id), zap.Error(err))
		jsonutil.InternalError(w, "failed to fetch node")
		return
	}
	jsonutil.OK(w, n)
}

// RenameNodeHandler handles PUT /node/{id}/name.
func (h *Handler) RenameNodeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req renameRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}

	n, err := h.engine.Rename(r.Context(), id, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, treeops.ErrInvalidName):
			jsonutil.BadRequest(w, "name must be non-empty and contain no slashes")
		case errors.Is(err, treeops.ErrNotFound):
			jsonutil.NotFound(w, "node not found")
		default:
			h.logger.Error("rename failed", zap.String("id", id), zap.Error(err))
			jsonutil.InternalError(w, "rename failed")
		}
		return
	}
	jsonutil.OK(w, n)
}

// DeleteNodeHandler handles DELETE /node/{id}. Folder deletes cascade to
// the whole subtree, so the response carries the removed count.
func (h *Handler) DeleteNodeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.engine.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, treeops.ErrNotFound) {
			jsonutil.NotFound(w, "node not found")
			return
		}
		h.logger.Error("delete failed", zap.String("id", id), zap.Error(err))
		jsonutil.InternalError(w, "delete failed")
		return
	}
	jsonutil.OK(w, res)
}

// ListSourceCodesHandler handles GET /source-codes.
func (h *Handler) ListSourceCodesHandler(w http.ResponseWriter, r *http.Request) {
	scs, err := h.sources.List(r.Context())
	if err != nil {
		h.logger.Error("source code list failed", zap.Error(err))
		jsonutil.InternalError(w, "failed to list source codes")
		return
	}
	jsonutil.OK(w, scs)
}

// CreateSourceCodeHandler handles POST /source-codes.
func (h *Handler) CreateSourceCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req createSourceCodeRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		jsonutil.BadRequest(w, "title is required")
		return
	}

	sc, err := h.sources.Create(r.Context(), sourcecode.CreateInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
	})
	if err != nil {
		h.logger.Error("source code create failed", zap.Error(err))
		jsonutil.InternalError(w, "failed to create source code")
		return
	}
	jsonutil.Created(w, sc)
}

// GetSourceCodeHandler handles GET /source-codes/{id}.
func (h *Handler) GetSourceCodeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := h.sources.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.NotFound(w, "source code not found")
			return
		}
		h.logger.Error("source code fetch failed", zap.String("id", id), zap.Error(err))
		jsonutil.InternalError(w, "failed to fetch source code")
		return
	}
	jsonutil.OK(w, sc)
}

// SourceCodeNodesHandler handles GET /source-codes/{id}/nodes, a flat
// paginated listing of a group's nodes in child order.
func (h *Handler) SourceCodeNodesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.checkSourceCode(w, r, id) {
		return
	}

	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	nodes, err := h.nodes.ListBySourceCodePaged(r.Context(), id, limit, page)
	if err != nil {
		h.logger.Error("node page failed", zap.String("source_code_id", id), zap.Error(err))
		jsonutil.InternalError(w, "failed to list nodes")
		return
	}
	total, err := h.nodes.CountBySourceCode(r.Context(), id)
	if err != nil {
		h.logger.Error("node count failed", zap.String("source_code_id", id), zap.Error(err))
		jsonutil.InternalError(w, "failed to list nodes")
		return
	}

	jsonutil.OK(w, nodesPageResponse{
		Nodes: nodes,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}
