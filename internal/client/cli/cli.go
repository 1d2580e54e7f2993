// Package cli реализует команды клиента: локальные мутации документов,
// синхронизация, просмотр и разрешение конфликтов.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/models"
)

func PrintUsage() {
	fmt.Println("crmsync client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  crmsync [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version         Show version information")
	fmt.Println("  --server URL      Server URL (default: http://localhost:8080)")
	fmt.Println("  --db PATH         Path to local database (default: crmsync-client.db)")
	fmt.Println("  --token TOKEN     Access token (or CRMSYNC_TOKEN env var)")
	fmt.Println("  --user ID         Principal id for local edits (default: local)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add <type> [id] field=value ...   Create or edit a document and queue it")
	fmt.Println("  get <id>                          Show a document")
	fmt.Println("  list [status]                     List documents, optionally by sync status")
	fmt.Println("  delete <id>                       Queue a document deletion")
	fmt.Println("  sync                              Run one push/pull cycle")
	fmt.Println("  watch [interval]                  Sync continuously (default: 30s)")
	fmt.Println("  status                            Show queue and checkpoint state")
	fmt.Println("  conflicts                         List documents awaiting resolution")
	fmt.Println("  resolve <id> [--ours|--theirs]    Resolve a conflict")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  crmsync add customer name=Acme email=billing@acme.example")
	fmt.Println("  crmsync add invoice inv-42 number=INV-0042 amount=100.50 status=draft")
	fmt.Println("  crmsync sync")
	fmt.Println("  crmsync resolve cust-1 --theirs")
	fmt.Println("  crmsync list conflicted")
}

// parseFields разбирает аргументы вида key=value в content поля.
// Значение сначала пробуется как JSON (числа, bool, объекты),
// иначе остается строкой.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		fields[key] = value
	}

	return fields, nil
}

// printDoc печатает документ в человекочитаемом виде
func printDoc(out iocli.IO, doc *models.Envelope) {
	out.Printf("ID:       %s\n", doc.ID)
	out.Printf("Type:     %s\n", doc.DocType)
	out.Printf("Rev:      %s\n", doc.Rev)
	out.Printf("Owner:    %s\n", doc.Owner)
	out.Printf("Status:   %s\n", statusLabel(doc))
	if doc.Deleted {
		out.Println("Deleted:  yes")
	}
	if doc.RejectReason != "" {
		out.Printf("Rejected: %s\n", doc.RejectReason)
	}
	if len(doc.Conflicts) > 0 {
		out.Printf("Conflict revs: %s\n", strings.Join(doc.Conflicts, ", "))
	}
	out.Printf("Modified: %s by %s (version %d)\n",
		doc.Audit.ModifiedAt.Format("2006-01-02 15:04:05"), doc.Audit.ModifiedBy, doc.Audit.Version)

	if len(doc.Fields) > 0 {
		out.Println("Fields:")
		data, err := json.MarshalIndent(doc.Fields, "  ", "  ")
		if err == nil {
			out.Printf("  %s\n", data)
		}
	}
}

func statusLabel(doc *models.Envelope) string {
	if doc.Status == "" {
		return string(models.StatusClean)
	}
	return string(doc.Status)
}
