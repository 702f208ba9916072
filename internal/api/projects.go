package api

import (
	"context"

	"sheratan/internal/domain"
)

func (c *Client) Projects(ctx context.Context) []domain.Project {
	items, err := getList[domain.Project](ctx, c, OpProjects, "/projects")
	if err != nil {
		c.absorb(OpProjects, err)
		return []domain.Project{}
	}
	out := make([]domain.Project, 0, len(items))
	for _, p := range items {
		if p.ID == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ProjectFiles returns the file tree of a project.
func (c *Client) ProjectFiles(ctx context.Context, projectID string) []domain.FileNode {
	items, err := getList[domain.FileNode](ctx, c, OpProjectFiles, pathf("/projects/%s/files", projectID))
	if err != nil {
		c.absorb(OpProjectFiles, err)
		return []domain.FileNode{}
	}
	if items == nil {
		items = []domain.FileNode{}
	}
	return items
}
