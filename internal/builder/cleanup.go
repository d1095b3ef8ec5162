package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/antonkrylov/htzbuild/internal/console"
)

const destroyTimeout = 2 * time.Minute

// Guard owns the teardown of one build server. Teardown runs at most once
// no matter how many exit paths reach it.
type Guard struct {
	Destroy func(ctx context.Context, id string)
	Log     console.Logger
	Logger  *slog.Logger
	// Exit terminates the process after a signal-driven teardown. It
	// defaults to os.Exit.
	Exit func(code int)
	// Starting and Finished run inside the single teardown, before and
	// after the server is destroyed or kept. cause is the error that ended
	// the run, if any.
	Starting func(ctx context.Context, cause error)
	Finished func(ctx context.Context, cause error)

	mu   sync.Mutex
	id   string
	once sync.Once
}

// Record stores the server to destroy. The first non-empty id wins.
func (g *Guard) Record(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.id == "" {
		g.id = id
	}
}

// Recorded returns the stored server id.
func (g *Guard) Recorded() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger == nil {
		return discardLogger
	}
	return g.Logger
}

// Teardown destroys the recorded server, or keeps it when keep is set.
// Only the first call has any effect; later calls wait for it to finish.
// A panicking destroy is recovered.
func (g *Guard) Teardown(ctx context.Context, keep bool, cause error) {
	g.once.Do(func() {
		if g.Starting != nil {
			g.Starting(ctx, cause)
		}
		g.release(ctx, keep)
		if g.Finished != nil {
			g.Finished(ctx, cause)
		}
	})
}

func (g *Guard) release(ctx context.Context, keep bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger().Error("teardown panicked", "panic", r)
		}
	}()
	id := g.Recorded()
	if id == "" {
		g.logger().Debug("teardown: no server recorded")
		return
	}
	if keep {
		g.Log.Warn(fmt.Sprintf("Keeping server %s for inspection. Delete it with: hcloud server delete %s", id, id))
		return
	}
	g.Log.Info(fmt.Sprintf("Destroying server %s...", id))
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()
	g.Destroy(dctx, id)
}

// Watch tears down and exits with status 1 when one of signals arrives.
// The returned function stops watching.
func (g *Guard) Watch(signals ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	quit := make(chan struct{})
	signal.Notify(ch, signals...)
	go func() {
		select {
		case sig := <-ch:
			g.handleSignal(sig)
		case <-quit:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}

func (g *Guard) handleSignal(sig os.Signal) {
	g.Log.Warn(fmt.Sprintf("Received %s, cleaning up...", sig))
	g.Teardown(context.Background(), false, fmt.Errorf("%w by %s", ErrInterrupted, sig))
	exit := g.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}
