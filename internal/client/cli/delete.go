package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/akarpov/crmsync/internal/client/iocli"
	clientsync "github.com/akarpov/crmsync/internal/client/sync"
)

// RunDelete ставит tombstone документа в очередь синхронизации
func RunDelete(ctx context.Context, args []string, engine *clientsync.Engine, user string, out iocli.IO) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document id. Usage: crmsync delete <id>")
	}

	id := args[0]
	tomb, err := engine.Delete(ctx, id, user)
	if err != nil {
		if errors.Is(err, clientsync.ErrConflictPending) {
			return fmt.Errorf("document %s has a pending conflict, resolve it first: crmsync resolve %s", id, id)
		}
		return err
	}

	out.Printf("Queued deletion of %s (rev %s)\n", tomb.ID, tomb.Rev)
	return nil
}
