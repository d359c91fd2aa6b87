// Package importer ingests source trees from GitHub, uploaded zip
// archives, and local file lists, and lands them as node batches.
package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/codestrata/internal/app/store/node"
	"github.com/dalemusser/codestrata/internal/app/store/sourcecode"
	"github.com/dalemusser/codestrata/internal/app/system/sizefmt"
	"github.com/dalemusser/codestrata/internal/domain/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSourceUnavailable indicates the import origin was unusable: an
// unreachable or unrecognized repository, or an archive that could not be
// parsed.
var ErrSourceUnavailable = errors.New("source unavailable")

// NodeInserter is the slice of the node store the importer writes through.
type NodeInserter interface {
	BulkInsert(ctx context.Context, in node.BulkInput) (*node.BulkResult, error)
}

// StatsRecorder records tree stats on the owning source-code record.
type StatsRecorder interface {
	UpdateTreeStats(ctx context.Context, id string, stats sourcecode.TreeStats) error
}

// Result reports what an import landed.
type Result struct {
	RootID             string `json:"root_id"`
	Created            int    `json:"created"`
	Skipped            int    `json:"skipped"`
	Errors             int    `json:"errors"`
	Files              int    `json:"files"`
	Folders            int    `json:"folders"`
	TotalSize          int64  `json:"total_size"`
	TotalSizeFormatted string `json:"total_size_formatted"`
}

// LocalFile is one entry of a local import. Folders are synthesized from
// the paths, so callers only list files.
type LocalFile struct {
	Path    string
	Content string
	Size    int64
}

// Importer pulls trees from external sources into the node store.
type Importer struct {
	Nodes   NodeInserter
	Sources StatsRecorder
	Logger  *zap.Logger

	HTTPClient    *http.Client
	GitHubAPIBase string
	GitHubRawBase string

	// Concurrency bounds the blob-fetch fan-out for GitHub imports.
	Concurrency int
}

// New creates an Importer with production defaults. sources may be nil when
// imports are not attached to a source-code record.
func New(nodes NodeInserter, sources StatsRecorder, logger *zap.Logger) *Importer {
	return &Importer{
		Nodes:         nodes,
		Sources:       sources,
		Logger:        logger,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		GitHubAPIBase: "https://api.github.com",
		GitHubRawBase: "https://raw.githubusercontent.com",
		Concurrency:   8,
	}
}

// batchLogger tags every log line of one import run with a batch id, so a
// run's skipped blobs, stats failures, and completion can be correlated.
func (imp *Importer) batchLogger() *zap.Logger {
	return imp.Logger.With(zap.String("import_batch", uuid.NewString()))
}

var githubRepoRe = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s]+)`)

// ParseGitHubURL extracts owner and repo from any of the usual GitHub URL
// shapes, tolerating a trailing .git or path suffix.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	m := githubRepoRe.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fmt.Errorf("not a github repository url: %q", raw)
	}
	owner = m[1]
	repo = strings.TrimSuffix(strings.TrimSuffix(m[2], "/"), ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("not a github repository url: %q", raw)
	}
	return owner, repo, nil
}

type githubTreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type githubTree struct {
	Tree      []githubTreeEntry `json:"tree"`
	Truncated bool              `json:"truncated"`
}

// ImportGitHub lists a repository branch with the recursive git/trees API,
// fetches each blob from the raw host, and lands the batch under a root
// named after the repository. A single unfetchable blob is skipped, not
// fatal.
func (imp *Importer) ImportGitHub(ctx context.Context, repoURL, branch, sourceCodeID string) (*Result, error) {
	owner, repo, err := ParseGitHubURL(repoURL)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = "main"
	}
	log := imp.batchLogger()

	listURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		imp.GitHubAPIBase, owner, repo, branch)
	body, err := imp.get(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s/%s@%s: %v", ErrSourceUnavailable, owner, repo, branch, err)
	}

	var tree githubTree
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("%w: decode tree listing: %v", ErrSourceUnavailable, err)
	}
	if tree.Truncated {
		log.Warn("github tree listing truncated",
			zap.String("owner", owner),
			zap.String("repo", repo),
			zap.String("branch", branch))
	}

	var items []node.Item
	var blobs []githubTreeEntry
	for _, entry := range tree.Tree {
		switch entry.Type {
		case "tree":
			items = append(items, node.Item{
				Name: path.Base(entry.Path),
				Path: "/" + entry.Path,
				Type: models.TypeFolder,
			})
		case "blob":
			blobs = append(blobs, entry)
		}
	}

	fileItems := make([]node.Item, len(blobs))
	fetched := make([]bool, len(blobs))

	g, gctx := errgroup.WithContext(ctx)
	limit := imp.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, blob := range blobs {
		g.Go(func() error {
			rawURL := fmt.Sprintf("%s/%s/%s/%s/%s",
				imp.GitHubRawBase, owner, repo, branch, blob.Path)
			raw, err := imp.get(gctx, rawURL)
			if err != nil {
				log.Warn("skipping unfetchable blob",
					zap.String("path", blob.Path),
					zap.Error(err))
				return nil
			}
			fileItems[i] = fileItem(blob.Path, raw)
			fetched[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for i := range blobs {
		if fetched[i] {
			items = append(items, fileItems[i])
		} else {
			failed++
		}
	}
	if failed > 0 {
		log.Warn("some blobs could not be fetched",
			zap.String("repo", repo),
			zap.Int("failed", failed))
	}

	return imp.finish(ctx, log, repo, sourceCodeID, items)
}

// ImportZip expands an uploaded archive into a node batch rooted at the
// archive's base name. Folder entries the archive omits are synthesized
// from the file paths.
func (imp *Importer) ImportZip(ctx context.Context, data []byte, filename, sourceCodeID string) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open zip: %v", ErrSourceUnavailable, err)
	}
	log := imp.batchLogger()

	rootName := path.Base(filename)
	if strings.EqualFold(path.Ext(rootName), ".zip") {
		rootName = rootName[:len(rootName)-4]
	}
	if rootName == "" || rootName == "." {
		rootName = "archive"
	}

	var items []node.Item
	for _, f := range zr.File {
		name := strings.Trim(f.Name, "/")
		if name == "" || strings.HasPrefix(name, "__MACOSX") {
			continue
		}
		if f.FileInfo().IsDir() {
			items = append(items, node.Item{
				Name: path.Base(name),
				Path: "/" + name,
				Type: models.TypeFolder,
			})
			continue
		}

		rc, err := f.Open()
		if err != nil {
			log.Warn("skipping unreadable zip entry",
				zap.String("name", f.Name),
				zap.Error(err))
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warn("skipping unreadable zip entry",
				zap.String("name", f.Name),
				zap.Error(err))
			continue
		}
		items = append(items, fileItem(name, raw))
	}

	return imp.finish(ctx, log, rootName, sourceCodeID, ensureAncestors(items))
}

// ImportLocal lands a caller-supplied file list, synthesizing the folder
// structure its paths imply.
func (imp *Importer) ImportLocal(ctx context.Context, rootName string, files []LocalFile, sourceCodeID string) (*Result, error) {
	log := imp.batchLogger()
	var items []node.Item
	for _, f := range files {
		p := strings.Trim(f.Path, "/")
		if p == "" {
			continue
		}
		item := fileItem(p, []byte(f.Content))
		if f.Size > 0 {
			item.Size = f.Size
		}
		items = append(items, item)
	}
	return imp.finish(ctx, log, rootName, sourceCodeID, ensureAncestors(items))
}

func (imp *Importer) finish(ctx context.Context, log *zap.Logger, rootName, sourceCodeID string, items []node.Item) (*Result, error) {
	in := node.BulkInput{
		RootName: rootName,
		Items:    items,
	}
	if sourceCodeID != "" {
		in.SourceCodeID = &sourceCodeID
	}

	res, err := imp.Nodes.BulkInsert(ctx, in)
	if err != nil {
		return nil, err
	}

	if sourceCodeID != "" && imp.Sources != nil {
		stats := sourcecode.TreeStats{
			RootFolderID: res.RootID,
			FileCount:    res.Files,
			FolderCount:  res.Folders,
			TotalSize:    sizefmt.Format(res.TotalSize),
		}
		if err := imp.Sources.UpdateTreeStats(ctx, sourceCodeID, stats); err != nil {
			// Stats are derivable from the nodes; the import itself landed.
			log.Warn("failed to record tree stats",
				zap.String("source_code_id", sourceCodeID),
				zap.Error(err))
		}
	}

	log.Info("import landed",
		zap.String("root_id", res.RootID),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors))

	return &Result{
		RootID:             res.RootID,
		Created:            res.Created,
		Skipped:            res.Skipped,
		Errors:             res.Errors,
		Files:              res.Files,
		Folders:            res.Folders,
		TotalSize:          res.TotalSize,
		TotalSizeFormatted: sizefmt.Format(res.TotalSize),
	}, nil
}

func (imp *Importer) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := imp.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

/* --------------------------- entry shaping --------------------------- */

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"svg": true, "webp": true, "bmp": true, "ico": true,
}

var imageMIMEs = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// fileItem shapes one file entry. Images are stored as base64 data URIs so
// the stored content renders directly; everything else is stored as text
// with the lowercased extension as its language.
func fileItem(p string, raw []byte) node.Item {
	name := path.Base(p)
	ext := extension(name)

	item := node.Item{
		Name:     name,
		Path:     "/" + strings.Trim(p, "/"),
		Type:     models.TypeFile,
		Language: ext,
		Size:     int64(len(raw)),
	}
	if imageExts[ext] {
		item.Content = "data:" + imageMIMEs[ext] + ";base64," +
			base64.StdEncoding.EncodeToString(raw)
	} else {
		item.Content = string(raw)
	}
	return item
}

// ensureAncestors adds folder items for every ancestor path the batch
// implies but does not list. Zip archives and local file lists routinely
// omit directory entries.
func ensureAncestors(items []node.Item) []node.Item {
	present := map[string]bool{}
	for _, item := range items {
		if item.Type == models.TypeFolder {
			present[item.Path] = true
		}
	}

	out := items
	for _, item := range items {
		dir := path.Dir(item.Path)
		for dir != "/" && dir != "." && dir != "" {
			if !present[dir] {
				present[dir] = true
				out = append(out, node.Item{
					Name: path.Base(dir),
					Path: dir,
					Type: models.TypeFolder,
				})
			}
			dir = path.Dir(dir)
		}
	}
	return out
}
