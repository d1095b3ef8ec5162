package builder

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/antonkrylov/htzbuild/internal/clock"
	"github.com/antonkrylov/htzbuild/internal/console"
)

// ArtifactRetriever copies the first existing artifact candidate off the
// build server.
type ArtifactRetriever struct {
	Remote    Remote
	Log       console.Logger
	Clock     clock.Clock
	OutputDir string
}

// Stamp formats t as used in artifact and log archive names:
// 2006-01-02-15-04-05-000 in UTC.
func Stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03d", t.Format("2006-01-02-15-04-05"), t.Nanosecond()/int(time.Millisecond))
}

// Retrieve downloads the first candidate that exists and returns its local
// path. Candidates after the first match are never checked.
func (a *ArtifactRetriever) Retrieve(ctx context.Context, candidates []string) (string, error) {
	clk := a.Clock
	if clk == nil {
		clk = clock.Real()
	}
	a.Log.Info("Looking for the build artifact...")
	found := ""
	for _, candidate := range candidates {
		ok, err := a.Remote.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrArtifactRetrieval, err)
		}
		if ok {
			found = candidate
			break
		}
	}
	if found == "" {
		return "", fmt.Errorf("%w: checked %v", ErrArtifactNotFound, candidates)
	}

	if err := os.MkdirAll(a.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArtifactRetrieval, err)
	}
	local := filepath.Join(a.OutputDir, "build-"+Stamp(clk.Now())+path.Ext(found))
	progress := a.Log.StartProgress("Downloading " + found + "...")
	if err := a.Remote.Download(ctx, found, local); err != nil {
		progress.Stop(false)
		return "", fmt.Errorf("%w: %w", ErrArtifactRetrieval, err)
	}
	progress.Stop(true)

	msg := "Artifact saved to " + local
	if info, err := os.Stat(local); err == nil {
		msg += " (" + humanize.Bytes(uint64(info.Size())) + ")"
	}
	a.Log.Success(msg)
	return local, nil
}
