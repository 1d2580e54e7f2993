package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
)

// RunConflicts печатает документы, ожидающие разрешения конфликта
func RunConflicts(ctx context.Context, docs storage.DocumentStorage, out iocli.IO) error {
	conflicted, err := docs.ListByStatus(ctx, models.StatusConflicted)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	if len(conflicted) == 0 {
		out.Println("No pending conflicts.")
		return nil
	}

	sort.Slice(conflicted, func(i, j int) bool { return conflicted[i].ID < conflicted[j].ID })

	out.Printf("%d document(s) awaiting resolution:\n", len(conflicted))
	for _, doc := range conflicted {
		out.Printf("  %-20s %-10s local rev %s, store rev %s\n",
			doc.ID, doc.DocType, doc.Rev, doc.PendingRev)
	}
	out.Println()
	out.Println("Use 'crmsync resolve <id>' to resolve.")

	return nil
}
