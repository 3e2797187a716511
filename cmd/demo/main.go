// Command demo is a small, hand-written driver that exercises taskmesh end
// to end: a worker pool, a five-node task graph with a mid-chain failure,
// a timeout-guarded operation, and a typed event bus with a scoped async
// subscriber. It exists to be read, not to be a supported CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vk/taskmesh/bus"
	"github.com/vk/taskmesh/cancel"
	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/pool"
	"github.com/vk/taskmesh/task"
)

type damageEvent struct {
	Target string
	Amount int
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	p := pool.New(ctx, pool.DefaultSize())
	defer p.Close()

	runTaskGraphDemo(p, logger)
	runTimeoutDemo(logger)
	runEventBusDemo(ctx, p, logger)
}

func runTaskGraphDemo(p *pool.Pool, logger *slog.Logger) {
	fetch := task.New(func() (string, error) {
		return "payload", nil
	})
	validate := fetch.Then(task.New(func() (string, error) {
		return "validated", nil
	}))
	transform := validate.Then(task.New(func() (string, error) {
		return "", errors.New("transform: malformed payload")
	}))
	persist := transform.Then(task.New(func() (string, error) {
		return "persisted", nil
	}))
	cleanup := transform.Finally(task.New(func() (string, error) {
		return "cleaned up", nil
	}))

	fetch.Schedule(p)

	if result, err := persist.GetResult(); err != nil {
		logger.Warn("task graph: downstream step skipped", "error", err)
	} else {
		logger.Info("task graph: persisted", "result", result)
	}

	if result, err := cleanup.GetResult(); err == nil {
		logger.Info("task graph: cleanup ran despite upstream failure", "result", result)
	}
}

func runTimeoutDemo(logger *slog.Logger) {
	var out *cancel.Token
	_, err := task.WithTimeout(30*time.Millisecond, &out, func() (int, error) {
		for i := 0; i < 20; i++ {
			if out.IsCancelled() {
				return 0, cancel.ErrCancelled
			}
			time.Sleep(10 * time.Millisecond)
		}
		return 1, nil
	})
	logger.Info("timeout demo finished", "error", err)
}

func runEventBusDemo(ctx context.Context, p *pool.Pool, logger *slog.Logger) {
	b := bus.New(ctx, p)

	scope := bus.NewScope()
	defer scope.Close()

	bus.SubscribeScoped(scope, b, func(e damageEvent) {
		logger.Info("sync handler observed damage", "target", e.Target, "amount", e.Amount)
	})
	bus.SubscribeAsync(scope, b, func(e damageEvent) {
		logger.Info("async handler observed damage", "target", e.Target, "amount", e.Amount)
	})

	bus.Emit(b, damageEvent{Target: "player-1", Amount: 25})

	agg := bus.PublishAsync(b, damageEvent{Target: "player-1", Amount: 10})
	if _, err := agg.GetResult(); err != nil {
		logger.Error("publish async: a handler failed", "error", err)
	}

	fmt.Println("demo complete")
}
