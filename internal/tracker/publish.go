package tracker

import (
	"context"
	"fmt"
)

// PublishRequest registers one published file.
type PublishRequest struct {
	Project     Ref
	Entity      Ref
	Task        Ref
	Path        string
	Name        string
	Version     int
	PublishType string
	Comment     string

	// Dependencies are paths of publishes this one was derived from.
	Dependencies []string

	// Thumbnail, when set, is uploaded after the record is created.
	// A failing thumbnail upload does not fail the publish.
	Thumbnail string
}

// RegisterPublish creates a PublishedFile record linking project,
// entity and task, then attaches the thumbnail best effort.
func (c *Client) RegisterPublish(ctx context.Context, req PublishRequest) (*Entity, error) {
	data := map[string]any{
		"name":                req.Name,
		"path":                req.Path,
		"version_number":      req.Version,
		"published_file_type": req.PublishType,
		"project":             req.Project,
		"entity":              req.Entity,
		"description":         req.Comment,
	}
	if !req.Task.IsZero() {
		data["task"] = req.Task
	}
	if len(req.Dependencies) > 0 {
		data["dependency_paths"] = req.Dependencies
	}

	entity, err := c.Create(ctx, "PublishedFile", data)
	if err != nil {
		return nil, err
	}

	if req.Thumbnail != "" {
		if err := c.UploadThumbnail(ctx, entity.Ref(), req.Thumbnail); err != nil {
			c.logger.Warn("thumbnail upload failed: " + err.Error())
		}
	}

	return entity, nil
}

// VersionRequest creates a review version from published frames.
type VersionRequest struct {
	Project    Ref
	Entity     Ref
	Task       Ref
	Name       string
	Comment    string
	FirstFrame int
	LastFrame  int
	FramesPath string
	Colorspace string

	// PublishedFiles link the version back to its source publishes.
	PublishedFiles []Ref

	// Media, when set, is uploaded to the created version.
	Media string
}

// CreateVersion registers a review version and uploads its media.
func (c *Client) CreateVersion(ctx context.Context, req VersionRequest) (*Entity, error) {
	data := map[string]any{
		"name":                 req.Name,
		"description":          req.Comment,
		"frame_range":          frameRange(req.FirstFrame, req.LastFrame),
		"first_frame":          req.FirstFrame,
		"last_frame":           req.LastFrame,
		"path_to_frames":       req.FramesPath,
		"project":              req.Project,
		"entity":               req.Entity,
		"published_files":      req.PublishedFiles,
		"colorspace":           req.Colorspace,
		"sg_status_list":       "rev",
		"created_by_toolchain": "stagehand",
	}
	if !req.Task.IsZero() {
		data["task"] = req.Task
	}

	entity, err := c.Create(ctx, "Version", data)
	if err != nil {
		return nil, err
	}

	if req.Media != "" {
		if err := c.UploadMedia(ctx, entity.Ref(), req.Media); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

func frameRange(first, last int) string {
	if first == 0 && last == 0 {
		return ""
	}
	return fmt.Sprintf("%d-%d", first, last)
}
