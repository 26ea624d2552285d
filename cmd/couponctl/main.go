// Command couponctl is the operator CLI: run reconciliation passes by
// hand, create batches, and manage Drive watch channels.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/mailer"
	"github.com/ignite/coupon-sync/internal/mailgun"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/reconcile"
	"github.com/ignite/coupon-sync/internal/repository/postgres"
	"github.com/ignite/coupon-sync/internal/sheets"
	"github.com/ignite/coupon-sync/internal/worker"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: couponctl <command> [flags]

commands:
  process-batch   run one reconciliation pass for a batch
  sync-sheet      reconcile a spreadsheet, confirming before catch-up sends
  create-batch    create a batch for a spreadsheet and register its watch
  renew-watches   renew expiring Drive watch channels`)
	os.Exit(2)
}

// app holds the wired collaborators every subcommand draws from.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	store      *postgres.Store
	watchStore *postgres.WatchStore
	sheets     *sheets.Client
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &app{
		cfg:        cfg,
		db:         db,
		store:      postgres.NewStore(db),
		watchStore: postgres.NewWatchStore(db),
		sheets:     sheets.NewClient(cfg.Sheets),
	}, nil
}

func (a *app) orchestrator(sendCatchUp bool) *reconcile.Orchestrator {
	mg := mailgun.NewClient(a.cfg.Mailgun)
	return reconcile.NewOrchestrator(
		a.store,
		a.sheets,
		reconcile.NewEventFetcher(&reconcile.MailgunEventLog{Client: mg}),
		mailer.NewSender(a.cfg.Mailgun, mg),
		reconcile.Options{
			GracePeriod: a.cfg.Reconcile.GracePeriod(),
			SendCatchUp: sendCatchUp,
		},
	)
}

func main() {
	logger.SetLevel(logger.WARN)

	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "process-batch":
		err = cmdProcessBatch(os.Args[2:])
	case "sync-sheet":
		err = cmdSyncSheet(os.Args[2:])
	case "create-batch":
		err = cmdCreateBatch(os.Args[2:])
	case "renew-watches":
		err = cmdRenewWatches(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func cmdProcessBatch(args []string) error {
	fs := flag.NewFlagSet("process-batch", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	id := fs.String("id", "", "batch id")
	fileID := fs.String("sheet-id", "", "spreadsheet file id")
	title := fs.String("title", "", "sheet title")
	fs.Parse(args)

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx := context.Background()
	batch, err := a.findBatch(ctx, *id, *fileID, *title)
	if err != nil {
		return err
	}

	result, err := a.orchestrator(true).Run(ctx, batch)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func cmdSyncSheet(args []string) error {
	fs := flag.NewFlagSet("sync-sheet", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fileID := fs.String("sheet-id", "", "spreadsheet file id (required)")
	yes := fs.Bool("yes", false, "resend missed notifications without asking")
	fs.Parse(args)

	if *fileID == "" {
		return fmt.Errorf("sync-sheet: -sheet-id is required")
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx := context.Background()
	batch, err := a.store.GetBatchBySheetFileID(ctx, *fileID)
	if err != nil {
		return err
	}

	result, err := a.orchestrator(false).Run(ctx, batch)
	if err != nil {
		return err
	}
	printResult(result)

	if result.Unsent == 0 {
		return nil
	}
	if !*yes && !confirm(fmt.Sprintf("%d assignees appear to have never been notified. Resend now?", result.Unsent)) {
		fmt.Println("Skipping catch-up sends.")
		return nil
	}

	result, err = a.orchestrator(true).Run(ctx, batch)
	if err != nil {
		return err
	}
	fmt.Printf("Catch-up pass notified %d assignees.\n", result.Notified)
	return nil
}

func cmdCreateBatch(args []string) error {
	fs := flag.NewFlagSet("create-batch", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fileID := fs.String("sheet-id", "", "spreadsheet file id (required)")
	fs.Parse(args)

	if *fileID == "" {
		return fmt.Errorf("create-batch: -sheet-id is required")
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx := context.Background()

	sp, err := a.sheets.Open(ctx, *fileID)
	if err != nil {
		return fmt.Errorf("opening spreadsheet: %w", err)
	}
	title := sp.FirstSheetTitle()
	if title == "" {
		return fmt.Errorf("spreadsheet %s has no worksheets", *fileID)
	}

	batch := &domain.BulkAssignmentBatch{
		ID:          uuid.New(),
		SheetFileID: fileID,
		SheetTitle:  title,
	}
	if err := a.store.CreateBatch(ctx, batch); err != nil {
		return err
	}
	fmt.Printf("Created batch %s for sheet %q.\n", batch.ID, title)

	ws := sheets.NewWatchService(a.cfg.Sheets, a.sheets)
	ch, err := ws.WatchFile(ctx, *fileID)
	if err != nil {
		return fmt.Errorf("registering watch (batch was created): %w", err)
	}
	err = a.watchStore.Upsert(ctx, domain.SheetWatch{
		FileID:     *fileID,
		ChannelID:  ch.ID,
		ResourceID: ch.ResourceID,
		ExpiresAt:  time.UnixMilli(ch.ExpirationMillis).UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered watch channel %s (expires %s).\n",
		ch.ID, time.UnixMilli(ch.ExpirationMillis).UTC().Format(time.RFC3339))
	return nil
}

func cmdRenewWatches(args []string) error {
	fs := flag.NewFlagSet("renew-watches", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	force := fs.Bool("force", false, "ignore the per-channel renewal floor")
	confirmOnly := fs.Bool("confirm", false, "report what the local records say, renew nothing")
	fs.Parse(args)

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.db.Close()

	if *confirmOnly {
		watches, err := a.watchStore.ListExpiring(context.Background(), time.Now().Add(24*time.Hour))
		if err != nil {
			return err
		}
		for _, w := range watches {
			fmt.Printf("  %s  channel %s  expires %s\n",
				w.FileID, w.ChannelID, w.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Printf("%d channels due for renewal within 24h.\n", len(watches))
		return nil
	}

	renewer := worker.NewWatchRenewer(a.watchStore, sheets.NewWatchService(a.cfg.Sheets, a.sheets), a.cfg.Sheets)
	n, err := renewer.RenewExpiring(context.Background(), *force)
	if err != nil {
		return err
	}
	fmt.Printf("Renewed %d watch channels.\n", n)
	return nil
}

func (a *app) findBatch(ctx context.Context, id, fileID, title string) (*domain.BulkAssignmentBatch, error) {
	switch {
	case id != "":
		batchID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid batch id %q: %w", id, err)
		}
		return a.store.GetBatch(ctx, batchID)
	case fileID != "":
		return a.store.GetBatchBySheetFileID(ctx, fileID)
	case title != "":
		return a.store.GetBatchByTitle(ctx, title)
	default:
		return nil, fmt.Errorf("one of -id, -sheet-id, or -title is required")
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printResult(r *reconcile.PassResult) {
	if r.Skipped {
		fmt.Printf("Batch %s is already complete; sheet untouched.\n", r.BatchID)
		return
	}
	fmt.Printf("Batch %s: %d rows, %d created, %d deleted, %d notified, %d row updates (%d sheet calls)\n",
		r.BatchID, r.Rows, r.Created, r.Deleted, r.Notified, r.RowUpdates, r.SheetCalls)
	if r.InvalidEmails > 0 {
		fmt.Printf("  %d rows carry invalid email addresses\n", r.InvalidEmails)
	}
	if r.Unsent > 0 {
		fmt.Printf("  %d assignees appear never notified\n", r.Unsent)
	}
	if r.Complete {
		fmt.Println("  batch fully converged")
	}
}
