package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage"
)

// RunGet печатает документ по id
func RunGet(ctx context.Context, args []string, docs storage.DocumentStorage, out iocli.IO) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document id. Usage: crmsync get <id>")
	}

	doc, err := docs.GetDocument(ctx, args[0])
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("document %s not found", args[0])
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	printDoc(out, doc)
	return nil
}
