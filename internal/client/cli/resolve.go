package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akarpov/crmsync/internal/client/iocli"
	clientsync "github.com/akarpov/crmsync/internal/client/sync"
	"github.com/akarpov/crmsync/internal/resolve"
)

// RunResolve разрешает конфликт документа: --ours/--theirs выбирают одну
// сторону целиком, без флага каждое расхождение решается интерактивно.
func RunResolve(ctx context.Context, args []string, engine *clientsync.Engine, out iocli.IO) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document id. Usage: crmsync resolve <id> [--ours|--theirs]")
	}

	id := args[0]
	mode := ""
	if len(args) > 1 {
		mode = args[1]
	}

	pending, err := engine.Conflict(ctx, id)
	if err != nil {
		if errors.Is(err, clientsync.ErrNotConflicted) {
			return fmt.Errorf("document %s has no pending conflict", id)
		}
		return err
	}

	var picks resolve.Picks
	switch mode {
	case "--ours":
		picks = resolve.AllLocal(pending.Choices)
	case "--theirs":
		picks = resolve.AllServer(pending.Choices)
	case "":
		picks, err = promptPicks(pending, out)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q, expected --ours or --theirs", mode)
	}

	merged, err := engine.Resolve(ctx, id, picks)
	if err != nil {
		return fmt.Errorf("failed to resolve: %w", err)
	}

	out.Printf("Resolved %s, merged rev %s queued for sync\n", merged.ID, merged.Rev)
	return nil
}

// promptPicks опрашивает пользователя по каждому расхождению.
// Требует терминала: в пайплайне используйте --ours/--theirs.
func promptPicks(pending *clientsync.PendingConflict, out iocli.IO) (resolve.Picks, error) {
	if !out.IsInteractive() {
		return nil, fmt.Errorf("interactive resolution requires a terminal; use --ours or --theirs")
	}

	if pending.Server.Deleted {
		out.Println("Store version is deleted.")
	}
	if pending.Local.Deleted {
		out.Println("Local version is deleted.")
	}

	picks := make(resolve.Picks, len(pending.Choices))
	for _, choice := range pending.Choices {
		out.Printf("Field %q:\n", choice.Field)
		out.Printf("  [l] local:  %s\n", renderValue(choice.Local))
		out.Printf("  [s] server: %s\n", renderValue(choice.Server))

		for {
			answer, err := out.ReadInput("Keep [l/s] (default s): ")
			if err != nil {
				return nil, fmt.Errorf("failed to read choice: %w", err)
			}

			switch answer {
			case "l", "L":
				picks[choice.Field] = resolve.PickLocal
			case "s", "S", "":
				picks[choice.Field] = resolve.PickServer
			default:
				out.Println("Please answer l or s.")
				continue
			}
			break
		}
	}

	return picks, nil
}

func renderValue(value any) string {
	if value == nil {
		return "(absent)"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
