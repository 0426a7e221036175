package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/backend"
	"github.com/hydrotreat/invoice-review/internal/cache"
	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/config"
	"github.com/hydrotreat/invoice-review/internal/editor"
	"github.com/hydrotreat/invoice-review/internal/lifecycle"
	"github.com/hydrotreat/invoice-review/internal/queue"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/report"
	"github.com/hydrotreat/invoice-review/internal/session"
	"github.com/hydrotreat/invoice-review/pkg/database"
	"github.com/hydrotreat/invoice-review/pkg/utils"
)

const usage = `Usage: invoice-review [-config <path>] <command> [options]

Commands:
  queue     list the review queue across divisions
  show      print one invoice
  edit      correct invoice fields and save
  approve   approve a pending invoice
  reject    reject a pending invoice
  pdf       download the scanned PDF
  report    export an xlsx summary
  register  create a backend user (admin)

Credentials come from INVOICE_USERNAME and INVOICE_PASSWORD.`

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	client *backend.Client
	sess   *session.Session
	store  *cache.InvoiceCache
	db     *database.DB
	logger *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	client := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, logger)

	username := os.Getenv("INVOICE_USERNAME")
	password := os.Getenv("INVOICE_PASSWORD")
	if username == "" || password == "" {
		return nil, errors.New("INVOICE_USERNAME and INVOICE_PASSWORD must be set")
	}

	sess, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	a := &app{cfg: cfg, client: client, sess: sess, logger: logger}

	if cfg.Cache.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		db, err := database.New(database.Config{Path: cfg.Cache.Path}, logger)
		if err != nil {
			return nil, err
		}
		store, err := cache.New(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.store = store
	}

	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "queue":
		return a.runQueue(ctx, args)
	case "show":
		return a.runShow(ctx, args)
	case "edit":
		return a.runEdit(ctx, args)
	case "approve":
		return a.runDecision(ctx, args, lifecycle.StateApproved)
	case "reject":
		return a.runDecision(ctx, args, lifecycle.StateRejected)
	case "pdf":
		return a.runPDF(ctx, args)
	case "report":
		return a.runReport(ctx, args)
	case "register":
		return a.runRegister(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// aggregator builds the fan-out queue; the cache store is optional.
func (a *app) aggregator() *queue.Aggregator {
	var store queue.Store
	if a.store != nil {
		store = a.store
	}
	return queue.NewAggregator(a.client, store, a.cfg.Queue.Divisions, a.logger)
}

func (a *app) runQueue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	division := fs.String("division", queue.DivisionAll, "Division name or 'all'")
	status := fs.String("status", "pending", "Status filter (pending, approved, rejected, or empty)")
	search := fs.String("search", "", "Free-text search")
	from := fs.String("from", "", "Scanning date lower bound (YYYY-MM-DD)")
	to := fs.String("to", "", "Scanning date upper bound (YYYY-MM-DD)")
	page := fs.Int("page", 0, "Page number")
	fs.Parse(args)

	for _, d := range []string{*from, *to} {
		if d != "" {
			if err := utils.ValidateDate(d); err != nil {
				return err
			}
		}
	}

	q := backend.ListQuery{
		Status:    *status,
		Search:    *search,
		StartDate: *from,
		EndDate:   *to,
		Page:      *page,
		PerPage:   a.cfg.Queue.PerPage,
	}
	result := a.aggregator().Fetch(ctx, a.sess, *division, q)

	for _, inv := range result.Invoices {
		total := inv.TotalAmount
		if total == "" {
			if s, ok := inv.LineItemsTotal(); ok {
				total = s
			}
		}
		fmt.Printf("%-16s %6d  %-12s %-10s %-24s %s\n",
			inv.Division, inv.ID, inv.InvoiceNumber, inv.Status, inv.SupplierName, total)
	}
	for _, d := range result.Stale {
		fmt.Printf("! %s: served from local cache\n", d)
	}
	for _, f := range result.Failures {
		fmt.Printf("! %s: unavailable (%v)\n", f.Division, f.Err)
	}
	return nil
}

func (a *app) runShow(ctx context.Context, args []string) error {
	division, id, _, err := invoiceArgs("show", args)
	if err != nil {
		return err
	}

	inv, warnings, err := a.fetchInvoice(ctx, division, id)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Printf("! %s\n", w)
	}
	printInvoice(inv)
	return nil
}

func (a *app) runEdit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: edit <division> <id> -set field=value ... -set-item index:field=value ...")
	}
	division := args[0]
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid invoice id %q", args[1])
	}

	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	var sets, itemSets multiFlag
	fs.Var(&sets, "set", "field=value (repeatable)")
	fs.Var(&itemSets, "set-item", "index:field=value (repeatable)")
	fs.Parse(args[2:])

	if len(sets) == 0 && len(itemSets) == 0 {
		return errors.New("nothing to edit: pass -set or -set-item")
	}

	inv, warnings, err := a.fetchInvoice(ctx, division, id)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Printf("! %s\n", w)
	}

	buf := editor.Open(inv, a.logger)
	for _, s := range sets {
		name, value, err := splitPair(s, "=")
		if err != nil {
			return fmt.Errorf("bad -set %q: %w", s, err)
		}
		value = utils.SanitizeString(value)
		if strings.HasSuffix(name, "_GSTIN") {
			if err := utils.ValidateGSTIN(value); err != nil {
				return err
			}
		}
		buf.SetField(name, value)
	}
	for _, s := range itemSets {
		idxPart, rest, err := splitPair(s, ":")
		if err != nil {
			return fmt.Errorf("bad -set-item %q: %w", s, err)
		}
		index, err := strconv.Atoi(idxPart)
		if err != nil {
			return fmt.Errorf("bad -set-item index %q", idxPart)
		}
		field, value, err := splitPair(rest, "=")
		if err != nil {
			return fmt.Errorf("bad -set-item %q: %w", s, err)
		}
		if err := buf.SetLineItem(index, field, utils.SanitizeString(value)); err != nil {
			return err
		}
	}

	committed, err := buf.Commit(ctx, a.sess, a.client)
	if err != nil {
		return err
	}
	a.cachePut(committed)
	fmt.Printf("Saved %s\n", committed.Key())
	return nil
}

func (a *app) runDecision(ctx context.Context, args []string, target lifecycle.State) error {
	verb := "approve"
	if target == lifecycle.StateRejected {
		verb = "reject"
	}
	division, id, _, err := invoiceArgs(verb, args)
	if err != nil {
		return err
	}

	inv, _, err := a.fetchInvoice(ctx, division, id)
	if err != nil {
		return err
	}

	// Local lifecycle gate first so a doomed request never leaves.
	if target == lifecycle.StateApproved {
		err = lifecycle.Approve(inv, a.sess.Principal)
	} else {
		err = lifecycle.Reject(inv, a.sess.Principal)
	}
	if err != nil {
		return err
	}

	if target == lifecycle.StateApproved {
		err = a.client.ApproveInvoice(ctx, a.sess, division, id)
	} else {
		err = a.client.RejectInvoice(ctx, a.sess, division, id)
	}
	if err != nil {
		return err
	}

	a.cachePut(inv)
	fmt.Printf("Invoice %s/%d %sd\n", division, id, verb)
	return nil
}

func (a *app) runPDF(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pdf <division> <id> [-o <path>]")
	}
	division := args[0]
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid invoice id %q", args[1])
	}

	fs := flag.NewFlagSet("pdf", flag.ExitOnError)
	out := fs.String("o", fmt.Sprintf("%s-%d.pdf", division, id), "Output path")
	fs.Parse(args[2:])

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := a.client.DownloadPDF(ctx, a.sess, division, id, f)
	if err != nil {
		os.Remove(*out)
		return err
	}
	fmt.Printf("Wrote %s (%d bytes)\n", *out, n)
	return nil
}

func (a *app) runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	division := fs.String("division", queue.DivisionAll, "Division name or 'all'")
	status := fs.String("status", "", "Status filter")
	out := fs.String("o", "", "Output path (defaults under report.output_dir)")
	fs.Parse(args)

	result := a.aggregator().Fetch(ctx, a.sess, *division, backend.ListQuery{Status: *status})
	for _, f := range result.Failures {
		fmt.Printf("! %s: unavailable (%v)\n", f.Division, f.Err)
	}
	if len(result.Invoices) == 0 {
		return errors.New("no invoices to report")
	}

	path := *out
	if path == "" {
		if err := os.MkdirAll(a.cfg.Report.OutputDir, 0755); err != nil {
			return err
		}
		name := fmt.Sprintf("invoices-%s-%s.xlsx", *division, time.Now().Format("20060102-150405"))
		path = filepath.Join(a.cfg.Report.OutputDir, name)
	}

	exporter := report.NewExporter(a.logger)
	if err := exporter.Export(a.sess, result.Invoices, path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d invoices, total %s)\n",
		path, len(result.Invoices), report.GrandTotal(result.Invoices).StringFixed(2))
	return nil
}

func (a *app) runRegister(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: register <username> <role>  (password from INVOICE_NEW_PASSWORD)")
	}
	username, roleName := args[0], args[1]

	if !a.sess.Can(capability.ActionManageUsers) {
		return fmt.Errorf("role %s may not register users", a.sess.Role)
	}
	if err := utils.ValidateUsername(username); err != nil {
		return err
	}
	role := capability.ParseRole(roleName)
	if role == capability.RoleUnknown {
		return fmt.Errorf("unknown role %q", roleName)
	}
	password := os.Getenv("INVOICE_NEW_PASSWORD")
	if password == "" {
		return errors.New("INVOICE_NEW_PASSWORD must be set")
	}

	if err := a.client.RegisterUser(ctx, a.sess, username, password, role); err != nil {
		return err
	}
	fmt.Printf("Registered %s as %s\n", username, role)
	return nil
}

// fetchInvoice prefers the backend and degrades to the cache when the
// backend is unreachable.
func (a *app) fetchInvoice(ctx context.Context, division string, id int64) (*record.Invoice, []string, error) {
	inv, warnings, err := a.client.GetInvoice(ctx, a.sess, division, id)
	if err == nil {
		a.cachePut(inv)
		return inv, warnings, nil
	}

	var netErr *backend.NetworkError
	if a.store != nil && errors.As(err, &netErr) {
		cached, cacheErr := a.store.Get(record.Key{Division: division, ID: id})
		if cacheErr == nil {
			fmt.Println("! backend unreachable, showing cached copy")
			return cached, nil, nil
		}
	}
	return nil, nil, err
}

func (a *app) cachePut(inv *record.Invoice) {
	if a.store == nil {
		return
	}
	if err := a.store.Put(inv); err != nil {
		a.logger.Warn("Cache update failed",
			zap.String("key", inv.Key().String()),
			zap.Error(err))
	}
}

func printInvoice(inv *record.Invoice) {
	fmt.Printf("Invoice %s  (%s)\n", inv.Key(), inv.Status)
	rows := [][2]string{
		{"Invoice number", inv.InvoiceNumber},
		{"Invoice date", inv.InvoiceDate},
		{"Supplier", inv.SupplierName},
		{"Supplier GSTIN", inv.SupplierGSTIN},
		{"PO number", inv.PONumber},
		{"Job ID", inv.JobID},
		{"Vehicle number", inv.VehicleNumber},
		{"Reference", inv.ReferenceNumber},
		{"Scanned", inv.ScanningDate},
		{"Total", inv.TotalAmount},
		{"Processed by", inv.ProcessedBy},
		{"Approved by", inv.ApprovedBy},
	}
	for _, r := range rows {
		if r[1] != "" {
			fmt.Printf("  %-16s %s\n", r[0], r[1])
		}
	}
	if len(inv.LineItems) > 0 {
		fmt.Println("  Line items:")
		for i, li := range inv.LineItems {
			fmt.Printf("    [%d] %-30s qty=%-6s price=%-10s total=%s\n",
				i, li.Description, li.Quantity, li.UnitPrice, li.LineTotal)
		}
		if s, ok := inv.LineItemsTotal(); ok {
			fmt.Printf("  Line items total: %s\n", s)
		}
	}
}

func invoiceArgs(verb string, args []string) (string, int64, []string, error) {
	if len(args) < 2 {
		return "", 0, nil, fmt.Errorf("usage: %s <division> <id>", verb)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, nil, fmt.Errorf("invalid invoice id %q", args[1])
	}
	return args[0], id, args[2:], nil
}

func splitPair(s, sep string) (string, string, error) {
	left, right, found := strings.Cut(s, sep)
	if !found || left == "" {
		return "", "", fmt.Errorf("expected <name>%s<value>", sep)
	}
	return left, right, nil
}

// multiFlag collects repeated flag values.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
