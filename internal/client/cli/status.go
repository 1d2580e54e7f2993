package cli

import (
	"context"
	"fmt"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
)

// RunStatus печатает состояние локальной очереди и checkpoint ленты
func RunStatus(
	ctx context.Context,
	docs storage.DocumentStorage,
	checkpoints storage.CheckpointStorage,
	out iocli.IO,
) error {
	all, err := docs.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	counts := make(map[models.SyncStatus]int)
	deleted := 0
	for _, doc := range all {
		status := doc.Status
		if status == "" {
			status = models.StatusClean
		}
		counts[status]++
		if doc.Deleted {
			deleted++
		}
	}

	seq, err := checkpoints.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	out.Printf("Documents:  %d (%d tombstones)\n", len(all), deleted)
	out.Printf("  clean:      %d\n", counts[models.StatusClean])
	out.Printf("  queued:     %d\n", counts[models.StatusQueued])
	out.Printf("  conflicted: %d\n", counts[models.StatusConflicted])
	out.Printf("  rejected:   %d\n", counts[models.StatusRejected])
	out.Printf("Checkpoint: %d\n", seq)

	return nil
}
