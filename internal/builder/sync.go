package builder

import (
	"context"
	"fmt"

	"github.com/antonkrylov/htzbuild/internal/console"
)

// ProjectSync mirrors the local project onto the build server.
type ProjectSync struct {
	Remote   Remote
	Log      console.Logger
	Excludes []string
}

// Sync uploads localDir into remoteDir.
func (s *ProjectSync) Sync(ctx context.Context, localDir, remoteDir string) error {
	s.Log.Info("Syncing project files...")
	if err := s.Remote.Upload(ctx, localDir, remoteDir, s.Excludes); err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	s.Log.Success("Project files synced.")
	return nil
}
