package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
)

// RunList печатает документы, опционально отфильтрованные по статусу
func RunList(ctx context.Context, args []string, docs storage.DocumentStorage, out iocli.IO) error {
	var (
		list []*models.Envelope
		err  error
	)

	if len(args) > 0 {
		status := models.SyncStatus(args[0])
		switch status {
		case models.StatusClean, models.StatusQueued, models.StatusConflicted,
			models.StatusSyncing, models.StatusRejected:
		default:
			return fmt.Errorf("unknown status %q. Use: clean, queued, conflicted, syncing, rejected", args[0])
		}
		list, err = docs.ListByStatus(ctx, status)
	} else {
		list, err = docs.ListDocuments(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(list) == 0 {
		out.Println("No documents found.")
		return nil
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	out.Printf("Found %d document(s):\n", len(list))
	for _, doc := range list {
		marker := ""
		if doc.Deleted {
			marker = " [deleted]"
		}
		out.Printf("  %-20s %-10s %-12s rev %s%s\n",
			doc.ID, doc.DocType, statusLabel(doc), doc.Rev, marker)
	}

	return nil
}
