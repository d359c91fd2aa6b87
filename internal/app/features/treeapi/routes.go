package treeapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns a router with the tree API endpoints.
//
// When mounted at /api:
//   - POST /api/import/github - Import a GitHub repository branch
//   - POST /api/import/zip - Import an uploaded zip archive
//   - POST /api/import/local - Import a caller-supplied file list
//   - GET  /api/tree/{rootID} - Rebuild a nested tree (?strategy=bulk|row)
//   - GET  /api/node/{id}/content - Fetch one file's content
//   - PUT  /api/node/{id}/name - Rename a node
//   - DELETE /api/node/{id} - Delete a node (folders cascade)
//   - GET/POST /api/source-codes - List / create source-code records
//   - GET  /api/source-codes/{id} - Fetch one record
//   - GET  /api/source-codes/{id}/nodes - Flat paginated node listing
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/import", func(ir chi.Router) {
		ir.Post("/github", h.ImportGitHubHandler)
		ir.Post("/zip", h.ImportZipHandler)
		ir.Post("/local", h.ImportLocalHandler)
	})

	r.Get("/tree/{rootID}", h.TreeHandler)

	r.Route("/node/{id}", func(nr chi.Router) {
		nr.Get("/content", h.NodeContentHandler)
		nr.Put("/name", h.RenameNodeHandler)
		nr.Delete("/", h.DeleteNodeHandler)
	})

	r.Route("/source-codes", func(sr chi.Router) {
		sr.Get("/", h.ListSourceCodesHandler)
		sr.Post("/", h.CreateSourceCodeHandler)
		sr.Get("/{id}", h.GetSourceCodeHandler)
		sr.Get("/{id}/nodes", h.SourceCodeNodesHandler)
	})

	return r
}
