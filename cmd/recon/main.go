package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/ledger-recon/internal/config"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/dvloznov/ledger-recon/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runReconcile(os.Args[2:], os.Stdout))
	case "migrate":
		os.Exit(runMigrate(os.Args[2:], os.Stdout))
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Ledger Reconciliation CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  recon <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  run       Reconcile internal records against the payment gateway")
	fmt.Fprintln(w, "  migrate   Create the BigQuery runs and discrepancy tables")
	fmt.Fprintln(w, "  help      Show this help message")
	fmt.Fprintln(w, "\nRun 'recon <command> -h' for more information on a command.")
}

// runReconcile executes one run and returns the process exit code.
func runReconcile(args []string, out io.Writer) (code int) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file (optional)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Upper bound for the whole run")
	fs.Parse(args)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Reconciliation failed: %s\n", oneLine(fmt.Sprint(r)))
			code = 1
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(out, "Reconciliation failed: %s\n", oneLine(err.Error()))
		return 1
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	deps, cleanup, err := buildDependencies(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire reconciliation run")
		fmt.Fprintf(out, "Reconciliation failed: %s\n", oneLine(err.Error()))
		return 1
	}
	defer cleanup()
	deps.Console = out

	res, err := pipeline.Run(ctx, deps)
	if err != nil {
		fmt.Fprintf(out, "Reconciliation failed: %s\n", oneLine(err.Error()))
		return 1
	}

	fmt.Fprintln(out, statusLine(res))
	res.Summary.Print(out)
	return 0
}

// runMigrate creates the configured BigQuery tables that do not exist yet.
func runMigrate(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file (optional)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(out, "Migration failed: %s\n", oneLine(err.Error()))
		return 1
	}
	if cfg.BigQueryProject == "" || (cfg.RunsBigQueryTable == "" && cfg.ReportBigQueryTable == "") {
		fmt.Fprintln(out, "Migration failed: bigquery_project and at least one of runs_bigquery_table, report_bigquery_table must be set")
		return 1
	}

	log := logger.New(cfg.LogLevel)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infra.NewRepository(ctx, cfg.BigQueryProject, infra.Tables{
		Runs:          tableRef(cfg, cfg.RunsBigQueryTable),
		Discrepancies: tableRef(cfg, cfg.ReportBigQueryTable),
	})
	if err != nil {
		fmt.Fprintf(out, "Migration failed: %s\n", oneLine(err.Error()))
		return 1
	}
	defer repo.Close()

	created, err := repo.EnsureTables(ctx)
	for _, name := range created {
		fmt.Fprintf(out, "  [OK]   %s\n", name)
	}
	if err != nil {
		fmt.Fprintf(out, "Migration failed: %s\n", oneLine(err.Error()))
		return 1
	}

	if len(created) == 0 {
		fmt.Fprintln(out, "No new tables to create. Dataset is up to date.")
	} else {
		fmt.Fprintf(out, "Successfully created %d table(s)\n", len(created))
	}
	return 0
}

func statusLine(res *pipeline.Result) string {
	if res.Degraded {
		return "Reconciliation completed (degraded): " + strings.Join(res.DegradedReasons, "; ")
	}
	return "Reconciliation completed."
}

// oneLine collapses a message onto a single line.
func oneLine(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}
