package engine

import (
	"context"
	"sync"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/connectivity"
)

// AutoSync triggers a drain on every unreachable-to-reachable transition of n.
// Each triggered drain runs on its own goroutine with ctx.
//
// stop unsubscribes and waits for triggered drains to return. It is safe to
// call more than once.
func AutoSync(ctx context.Context, n connectivity.Notifier, r *Reporter) (stop func()) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		stopped bool
	)

	log := r.engine.logger
	unsubscribe := n.OnTransition(func(s connectivity.State) {
		if !s.Reachable {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, started, err := r.TriggerSync(ctx)
			switch {
			case err != nil:
				log.Warn("auto-sync drain", "error", err)
			case !started:
				log.Debug("auto-sync skipped, drain already running")
			default:
				log.Debug("auto-sync drain done", "synced", summary.Synced, "pending", summary.Pending)
			}
		}()
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			stopped = true
			mu.Unlock()
			wg.Wait()
		})
	}
}
