package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage"
	clientsync "github.com/akarpov/crmsync/internal/client/sync"
	"github.com/akarpov/crmsync/internal/models"
)

// RunAdd создает или правит документ и ставит его в очередь синхронизации.
// Для существующего документа заданные поля накладываются на текущие.
func RunAdd(
	ctx context.Context,
	args []string,
	engine *clientsync.Engine,
	docs storage.DocumentStorage,
	user string,
	out iocli.IO,
) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document type. Usage: crmsync add <doc-type> [id] field=value ...")
	}

	docType := args[0]
	rest := args[1:]

	id := ""
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		id = rest[0]
		rest = rest[1:]
	}
	if id == "" {
		id = uuid.NewString()
	}

	fields, err := parseFields(rest)
	if err != nil {
		return err
	}

	doc := &models.Envelope{
		ID:      id,
		DocType: docType,
		Fields:  fields,
	}

	// Правка существующего документа: новые поля поверх текущих
	current, err := docs.GetDocument(ctx, id)
	switch {
	case err == nil && !current.Deleted:
		if current.DocType != docType {
			return fmt.Errorf("document %s has type %s, not %s", id, current.DocType, docType)
		}
		merged := current.Clone().Fields
		for key, value := range fields {
			merged[key] = value
		}
		doc.Fields = merged
		doc.Owner = current.Owner
		doc.Corrections = current.Corrections
	case err != nil && !errors.Is(err, storage.ErrDocumentNotFound):
		return fmt.Errorf("failed to load document: %w", err)
	}

	staged, err := engine.Put(ctx, doc, user)
	if err != nil {
		if errors.Is(err, clientsync.ErrConflictPending) {
			return fmt.Errorf("document %s has a pending conflict, resolve it first: crmsync resolve %s", id, id)
		}
		return err
	}

	out.Printf("Queued %s %s (rev %s)\n", staged.DocType, staged.ID, staged.Rev)
	return nil
}
