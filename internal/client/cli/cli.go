// Package cli implements the recordsync client subcommands. Runners print
// to stdout and return errors for main to report; they never exit the
// process themselves.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/openclerk/recordsync/internal/client/sync"
	"github.com/openclerk/recordsync/internal/models"
)

// PrintUsage prints the command summary.
func PrintUsage() {
	fmt.Fprintln(os.Stderr, `Usage: recordsync [flags] <command> [args]

Commands:
  status                          show sync status
  list <collection>               list local records
  get <collection> <id>           print a record
  write <collection> <id> <json>  apply a field patch locally
  delete <collection> <id>        delete a record locally
  conflicts                       list unresolved conflicts
  resolve <conflict-id> <side>    resolve a conflict (side: client|server)
  run                             run the sync engine until interrupted

Flags:`)
	fmt.Fprintln(os.Stderr, "  see 'recordsync -h'")
}

// RunStatus shows pending counts, last full sync and unresolved conflicts.
func RunStatus(ctx context.Context, svc sync.Service, store sync.Store) error {
	pending, err := store.CountAllPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	conflicts, err := svc.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	lastFull, err := store.GetLastFullSync(ctx)
	if err != nil {
		return fmt.Errorf("last full sync: %w", err)
	}
	token, err := store.GetResumeToken(ctx)
	if err != nil {
		return fmt.Errorf("resume token: %w", err)
	}

	fmt.Printf("Pending changes:      %d\n", pending)
	fmt.Printf("Unresolved conflicts: %d\n", len(conflicts))
	if lastFull.IsZero() {
		fmt.Println("Last full sync:       never")
	} else {
		fmt.Printf("Last full sync:       %s\n", lastFull.Format("2006-01-02 15:04:05 MST"))
	}
	if token == "" {
		fmt.Println("Resume token:         none")
	} else {
		fmt.Printf("Resume token:         %s\n", token)
	}
	return nil
}

// RunList prints the records of a collection.
func RunList(ctx context.Context, args []string, svc sync.Service) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: list <collection>")
	}

	records, err := svc.ListRecords(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tVERSION\tLAST SYNCED")
	for _, rec := range records {
		lastSynced := "-"
		if !rec.LastSynced.IsZero() {
			lastSynced = rec.LastSynced.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.DocumentID, rec.SyncState, rec.ConflictVersion, lastSynced)
	}
	return w.Flush()
}

// RunGet prints one record as JSON.
func RunGet(ctx context.Context, args []string, svc sync.Service) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <collection> <id>")
	}

	rec, err := svc.Read(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}

	fields, err := rec.Fields.ToJSON()
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	fmt.Printf("%s/%s (%s, version %d)\n", rec.Collection, rec.DocumentID, rec.SyncState, rec.ConflictVersion)
	fmt.Println(string(fields))
	return nil
}

// RunWrite applies a JSON field patch to a record.
func RunWrite(ctx context.Context, args []string, svc sync.Service) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: write <collection> <id> <json-patch>")
	}

	patch, err := models.FieldsFromJSON([]byte(args[2]))
	if err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}

	rec, err := svc.Write(ctx, args[0], args[1], patch)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	fmt.Printf("Wrote %s/%s (version %d), queued for sync\n", rec.Collection, rec.DocumentID, rec.ConflictVersion)
	return nil
}

// RunDelete removes a record locally.
func RunDelete(ctx context.Context, args []string, svc sync.Service) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <collection> <id>")
	}

	if err := svc.Delete(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	fmt.Printf("Deleted %s/%s, queued for sync\n", args[0], args[1])
	return nil
}

// RunConflicts lists unresolved conflicts, manual-review ones marked.
func RunConflicts(ctx context.Context, svc sync.Service) error {
	conflicts, err := svc.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		fmt.Println("No unresolved conflicts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECORD\tCREATED\tREVIEW")
	for _, c := range conflicts {
		review := ""
		if c.ManualReview {
			review = "manual"
		}
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\n",
			c.ID, c.Collection, c.DocumentID,
			c.CreatedAt.Format("2006-01-02 15:04:05"), review)
	}
	return w.Flush()
}

// RunResolve applies one side of a conflict as its resolution.
func RunResolve(ctx context.Context, args []string, svc sync.Service) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: resolve <conflict-id> <client|server>")
	}
	conflictID, side := args[0], args[1]

	conflicts, err := svc.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	var target *models.Conflict
	for _, c := range conflicts {
		if c.ID == conflictID {
			target = c
			break
		}
	}
	if target == nil {
		return fmt.Errorf("conflict %s not found", conflictID)
	}

	var chosen *models.Delta
	switch side {
	case "client":
		chosen = target.ClientDelta
	case "server":
		chosen = target.ServerDelta
	default:
		return fmt.Errorf("side must be client or server, got %q", side)
	}

	if err := svc.ResolveConflict(ctx, conflictID, chosen); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	fmt.Printf("Resolved %s with %s delta\n", conflictID, side)
	return nil
}

// RunEngine runs the sync engine until ctx is cancelled.
func RunEngine(ctx context.Context, svc sync.Service) error {
	fmt.Println("Sync engine running, Ctrl+C to stop")
	err := svc.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}

	stats := svc.Stats()
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Printf("Engine stopped:\n%s\n", out)
	return nil
}
