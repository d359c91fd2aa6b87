package treeapi

import (
	"github.com/dalemusser/codestrata/internal/app/system/filetree"
	"github.com/dalemusser/codestrata/internal/domain/models"
)

type importGitHubRequest struct {
	RepoURL      string `json:"repo_url"`
	Branch       string `json:"branch"`
	SourceCodeID string `json:"source_code_id"`
}

type localFileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

type importLocalRequest struct {
	RootName     string           `json:"root_name"`
	SourceCodeID string           `json:"source_code_id"`
	Files        []localFileEntry `json:"files"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type createSourceCodeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type treeResponse struct {
	Tree  *filetree.TreeNode `json:"tree"`
	Stats *filetree.Stats    `json:"stats"`
}

type nodesPageResponse struct {
	Nodes []models.Node `json:"nodes"`
	Page  int64         `json:"page"`
	Limit int64         `json:"limit"`
	Total int64         `json:"total"`
}
