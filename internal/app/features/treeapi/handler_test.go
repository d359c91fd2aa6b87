package treeapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/codestrata/internal/app/store/node"
	"github.com/dalemusser/codestrata/internal/app/store/sourcecode"
	"github.com/dalemusser/codestrata/internal/app/system/filetree"
	"github.com/dalemusser/codestrata/internal/app/system/importer"
	"github.com/dalemusser/codestrata/internal/app/system/treeops"
	"github.com/dalemusser/codestrata/internal/testutil"
	"go.uber.org/zap"
)

func setupHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	nodes := node.New(db, logger)
	sources := sourcecode.New(db)
	imp := importer.New(nodes, sources, logger)
	builder := filetree.NewBuilder(nodes, nil, logger)
	engine := treeops.New(nodes, sources, logger)

	h := NewHandler(imp, builder, engine, nodes, sources, logger)
	return h, Routes(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// importDemo lands the standard local batch and returns its root id.
func importDemo(t *testing.T, router http.Handler, sourceCodeID string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/import/local", importLocalRequest{
		RootName:     "demo",
		SourceCodeID: sourceCodeID,
		Files: []localFileEntry{
			{Path: "src/index.js", Content: "a"},
			{Path: "src/util.js", Content: "util"},
			{Path: "README.md", Content: "readme"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import/local status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[importer.Result](t, rec)
	if res.RootID == "" {
		t.Fatal("import returned empty root_id")
	}
	return res.RootID
}

func TestHandler_ImportLocalAndTree(t *testing.T) {
	_, router := setupHandler(t)
	rootID := importDemo(t, router, "")

	t.Run("auto strategy", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/tree/"+rootID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("tree status = %d, body %s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[treeResponse](t, rec)
		if resp.Tree == nil || resp.Tree.Name != "demo" {
			t.Fatalf("tree root = %+v, want demo", resp.Tree)
		}
		if resp.Stats.TotalItems != 5 || resp.Stats.Files != 3 || resp.Stats.Folders != 2 {
			t.Errorf("stats = %+v, want 5 items, 3 files, 2 folders", resp.Stats)
		}
		if len(resp.Tree.Children) != 2 || resp.Tree.Children[0].Name != "src" {
			t.Errorf("root children = %+v, want folder src first", resp.Tree.Children)
		}
	})

	t.Run("row strategy matches", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/tree/"+rootID+"?strategy=row", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("tree status = %d", rec.Code)
		}
		resp := decodeBody[treeResponse](t, rec)
		if resp.Stats.TotalItems != 5 {
			t.Errorf("TotalItems = %d, want 5", resp.Stats.TotalItems)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/tree/"+rootID+"?strategy=magic", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/tree/FD_MISSING", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("validation", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/import/local", importLocalRequest{RootName: " "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func zipUploadRequest(t *testing.T, path string, data []byte, filename, sourceCodeID string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if sourceCodeID != "" {
		mw.WriteField("source_code_id", sourceCodeID)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_ImportZip(t *testing.T) {
	_, router := setupHandler(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"src/index.js": "a",
		"README.md":    "readme",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(content))
	}
	if _, err := zw.Create("src/"); err != nil {
		t.Fatalf("zip dir: %v", err)
	}
	zw.Close()

	t.Run("successful import", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, zipUploadRequest(t, "/import/zip", buf.Bytes(), "demo.zip", ""))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		res := decodeBody[importer.Result](t, rec)
		if res.Created != 4 {
			t.Errorf("Created = %d, want 4 (root + folder + 2 files)", res.Created)
		}
	})

	t.Run("invalid archive", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, zipUploadRequest(t, "/import/zip", []byte("junk"), "x.zip", ""))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		var empty bytes.Buffer
		mw := multipart.NewWriter(&empty)
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/import/zip", &empty)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandler_ImportGitHub(t *testing.T) {
	h, router := setupHandler(t)

	listing := `{"tree": [
		{"path": "src", "type": "tree"},
		{"path": "src/main.go", "type": "blob", "size": 12}
	], "truncated": false}`
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listing)
	})
	mux.HandleFunc("/raw/acme/widgets/main/src/main.go", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "package main")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	h.importer.GitHubAPIBase = srv.URL
	h.importer.GitHubRawBase = srv.URL + "/raw"

	t.Run("bad url", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/import/github", importGitHubRequest{RepoURL: "https://example.com/x"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown source code", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/import/github", importGitHubRequest{
			RepoURL:      "https://github.com/acme/widgets",
			SourceCodeID: "MISSING1",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("unknown branch", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/import/github", importGitHubRequest{
			RepoURL: "https://github.com/acme/widgets",
			Branch:  "nope",
		})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})

	t.Run("successful import records stats", func(t *testing.T) {
		created := doJSON(t, router, http.MethodPost, "/source-codes", createSourceCodeRequest{Title: "widgets"})
		if created.Code != http.StatusCreated {
			t.Fatalf("create source code status = %d", created.Code)
		}
		sc := decodeBody[map[string]any](t, created)
		scID, _ := sc["id"].(string)

		rec := doJSON(t, router, http.MethodPost, "/import/github", importGitHubRequest{
			RepoURL:      "https://github.com/acme/widgets",
			Branch:       "main",
			SourceCodeID: scID,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		res := decodeBody[importer.Result](t, rec)
		if res.Files != 1 || res.Folders != 1 {
			t.Errorf("result = %+v, want 1 file, 1 folder", res)
		}

		got := doJSON(t, router, http.MethodGet, "/source-codes/"+scID, nil)
		if got.Code != http.StatusOK {
			t.Fatalf("get source code status = %d", got.Code)
		}
		record := decodeBody[map[string]any](t, got)
		if record["file_count"].(float64) != 1 {
			t.Errorf("file_count = %v, want 1", record["file_count"])
		}
		if record["root_folder_id"] != res.RootID {
			t.Errorf("root_folder_id = %v, want %s", record["root_folder_id"], res.RootID)
		}
	})
}

func TestHandler_NodeContent(t *testing.T) {
	_, router := setupHandler(t)
	rootID := importDemo(t, router, "")

	tree := decodeBody[treeResponse](t, doJSON(t, router, http.MethodGet, "/tree/"+rootID, nil))
	var readmeID string
	for _, c := range tree.Tree.Children {
		if c.Name == "README.md" {
			readmeID = c.ID
		}
	}
	if readmeID == "" {
		t.Fatal("README.md not in tree")
	}

	rec := doJSON(t, router, http.MethodGet, "/node/"+readmeID+"/content", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	n := decodeBody[map[string]any](t, rec)
	if n["content"] != "readme" {
		t.Errorf("content = %v, want readme", n["content"])
	}

	missing := doJSON(t, router, http.MethodGet, "/node/FL_MISSING/content", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.Code)
	}
}

func TestHandler_RenameAndDelete(t *testing.T) {
	_, router := setupHandler(t)
	rootID := importDemo(t, router, "")

	tree := decodeBody[treeResponse](t, doJSON(t, router, http.MethodGet, "/tree/"+rootID, nil))
	var srcID, readmeID string
	for _, c := range tree.Tree.Children {
		switch c.Name {
		case "src":
			srcID = c.ID
		case "README.md":
			readmeID = c.ID
		}
	}

	t.Run("invalid name", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/node/"+readmeID+"/name", renameRequest{Name: "a/b"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rename", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/node/"+readmeID+"/name", renameRequest{Name: "NOTES.md"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		n := decodeBody[map[string]any](t, rec)
		if n["name"] != "NOTES.md" {
			t.Errorf("name = %v, want NOTES.md", n["name"])
		}
	})

	t.Run("delete folder cascades", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete, "/node/"+srcID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		res := decodeBody[map[string]any](t, rec)
		if res["deleted_count"].(float64) != 3 {
			t.Errorf("deleted_count = %v, want 3", res["deleted_count"])
		}

		after := decodeBody[treeResponse](t, doJSON(t, router, http.MethodGet, "/tree/"+rootID, nil))
		if after.Stats.TotalItems != 2 {
			t.Errorf("TotalItems after delete = %d, want 2", after.Stats.TotalItems)
		}
	})

	t.Run("delete missing", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete, "/node/FL_MISSING", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandler_SourceCodeNodesPaging(t *testing.T) {
	_, router := setupHandler(t)

	created := doJSON(t, router, http.MethodPost, "/source-codes", createSourceCodeRequest{Title: "paged"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d", created.Code)
	}
	sc := decodeBody[map[string]any](t, created)
	scID := sc["id"].(string)

	importDemo(t, router, scID)

	rec := doJSON(t, router, http.MethodGet, "/source-codes/"+scID+"/nodes?limit=2&page=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[nodesPageResponse](t, rec)
	if len(page.Nodes) != 2 {
		t.Errorf("page size = %d, want 2", len(page.Nodes))
	}
	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}

	t.Run("missing title rejected", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/source-codes", createSourceCodeRequest{Title: "  "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/source-codes/MISSING1/nodes", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
