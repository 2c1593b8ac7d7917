package menu

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/publish"
	"github.com/framehaus/stagehand/internal/tracker"
)

// RegisterStandardActions wires the toolkit actions applications
// trigger from their menus: folder creation and the publish engine.
func (s *Server) RegisterStandardActions(creator *folders.Creator, publisher *publish.Publisher) {
	s.RegisterAction("create_folders", createFoldersAction(creator))
	s.RegisterAction("publish_validate", publishAction(publisher, true))
	s.RegisterAction("publish", publishAction(publisher, false))
}

func createFoldersAction(creator *folders.Creator) ActionFunc {
	return func(ctx context.Context, req ActionRequest) (any, error) {
		if req.Area == nil || req.Area.Entity == nil {
			return nil, fmt.Errorf("create_folders needs a work area with an entity")
		}
		sel := folders.Selection{Refs: []tracker.Ref{*req.Area.Entity}}
		return creator.Create(ctx, sel)
	}
}

func publishAction(publisher *publish.Publisher, validateOnly bool) ActionFunc {
	return func(ctx context.Context, req ActionRequest) (any, error) {
		var batch publish.Batch
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args, &batch); err != nil {
				return nil, fmt.Errorf("bad publish batch: %w", err)
			}
		}
		batch.Area = req.Area

		if validateOnly {
			return publisher.Validate(ctx, batch, nil), nil
		}

		// Validate only reports tasks that failed.
		if results := publisher.Validate(ctx, batch, nil); len(results) > 0 {
			return results, fmt.Errorf("pre-publish validation failed for %d task(s)", len(results))
		}
		return publisher.Publish(ctx, batch, nil), nil
	}
}
