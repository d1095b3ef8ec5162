package builder

import (
	"context"
	"io"

	"github.com/antonkrylov/htzbuild/internal/fleet"
	"github.com/antonkrylov/htzbuild/internal/runner"
)

// Remote is the transport to a provisioned build server. *remote.Host
// implements it.
type Remote interface {
	Exec(ctx context.Context, script string) (runner.Result, error)
	Check(ctx context.Context, script string) error
	Stream(ctx context.Context, script string) error
	Exists(ctx context.Context, path string) (bool, error)
	Follow(ctx context.Context, path string, w io.Writer) (runner.Process, error)
	Upload(ctx context.Context, localDir, remoteDir string, excludes []string) error
	Download(ctx context.Context, remotePath, localPath string) error
}

// Provisioner creates and destroys build servers. *fleet.Client
// implements it.
type Provisioner interface {
	ActiveContext(ctx context.Context) bool
	EnsureSSHKey(ctx context.Context, req fleet.KeyRequest) (fleet.SSHKey, error)
	Create(ctx context.Context, spec fleet.CreateSpec) (fleet.Instance, error)
	Destroy(ctx context.Context, id string)
}
