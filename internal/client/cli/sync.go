package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/akarpov/crmsync/internal/client/iocli"
	clientsync "github.com/akarpov/crmsync/internal/client/sync"
)

// RunSync выполняет один цикл синхронизации и печатает итог
func RunSync(ctx context.Context, engine *clientsync.Engine, out iocli.IO) error {
	out.Println("Syncing...")

	result, err := engine.Sync(ctx)
	if result != nil {
		printSyncResult(out, result)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return nil
}

// RunWatch синхронизирует в цикле с заданным интервалом до отмены ctx
func RunWatch(ctx context.Context, args []string, engine *clientsync.Engine, out iocli.IO) error {
	interval := 30 * time.Second
	if len(args) > 0 {
		parsed, err := time.ParseDuration(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid interval %q", args[0])
		}
		interval = parsed
	}

	out.Printf("Watching, sync every %s. Ctrl+C to stop.\n", interval)
	engine.Run(ctx, interval)
	return nil
}

func printSyncResult(out iocli.IO, result *clientsync.Result) {
	out.Printf("Pushed:   %d (applied %d, auto-resolved %d, manual pending %d, rejected %d)\n",
		result.Pushed, result.Applied, result.AutoResolved, result.ManualPending, result.Rejected)
	out.Printf("Pulled:   %d\n", result.Pulled)
	if result.Failed > 0 {
		out.Printf("Failed:   %d\n", result.Failed)
	}

	for _, rejection := range result.Rejections {
		out.Printf("Rejected %s: %s (%s)\n", rejection.ID, rejection.Reason, rejection.Detail)
	}
	if result.ManualPending > 0 {
		out.Println("Run 'crmsync conflicts' to see documents awaiting resolution.")
	}
}
