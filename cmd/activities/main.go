package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	activities "github.com/akriventsev/activities"
	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/boot"
	"github.com/akriventsev/activities/framework/config"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	configFile := flag.String("config", "", "Path to YAML config file")
	input := flag.String("input", "", "Run input as JSON")
	timeout := flag.Duration("timeout", 0, "Run timeout (0 - no limit)")
	workflowsDir := flag.String("workflows", "", "Workflows directory (overrides config)")

	flag.CommandLine.Parse(os.Args[2:])

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *workflowsDir != "" {
		cfg.Workflows.Dir = *workflowsDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		runServe(ctx, cfg)
	case "run":
		if len(flag.Args()) == 0 {
			fmt.Fprintf(os.Stderr, "Error: workflow name is required\n")
			os.Exit(1)
		}
		runWorkflow(ctx, cfg, flag.Args()[0], *input, *timeout)
	case "list":
		runList(ctx, cfg)
	case "validate":
		runValidate(cfg)
	case "migrate":
		runMigrate(ctx, cfg)
	case "version":
		fmt.Println(activities.Version)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Activities workflow engine")
	fmt.Println()
	fmt.Println("Usage: activities <command> [flags] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve           - Start HTTP, gRPC health, message bus and scheduler triggers")
	fmt.Println("  run <workflow>  - Execute a workflow once and print the run record")
	fmt.Println("  list            - List registered workflows")
	fmt.Println("  validate        - Parse and resolve every workflow in the workflows directory")
	fmt.Println("  migrate         - Apply PostgreSQL run store migrations")
	fmt.Println("  version         - Print version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config      - Path to YAML config file (env and .env override it)")
	fmt.Println("  --input       - Run input as JSON (run)")
	fmt.Println("  --timeout     - Run timeout, e.g. 30s (run)")
	fmt.Println("  --workflows   - Workflows directory")
}

func runServe(ctx context.Context, cfg *config.Config) {
	app, err := boot.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWorkflow(ctx context.Context, cfg *config.Config, name, rawInput string, timeout time.Duration) {
	var input any
	if rawInput != "" {
		if err := json.Unmarshal([]byte(rawInput), &input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --input: %v\n", err)
			os.Exit(1)
		}
	}

	app, err := boot.New(ctx, cfg, boot.WithoutServers())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	code := execute(ctx, app, name, input, timeout)
	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping: %v\n", err)
	}
	os.Exit(code)
}

func execute(ctx context.Context, app *boot.Application, name string, input any, timeout time.Duration) int {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rec, err := app.Runner().Execute(ctx, name, input, workflow.WithTrigger(workflow.TriggerCLI))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println(string(out))
	if rec.State != activity.RunCompleted {
		return 2
	}
	return 0
}

func runList(ctx context.Context, cfg *config.Config) {
	app, err := boot.New(ctx, cfg, boot.WithoutServers())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Stop(context.Background())

	for _, def := range app.Workflows().List() {
		fmt.Printf("%-24s %s\n", def.Name, def.Description)
	}
}

func runValidate(cfg *config.Config) {
	defs, err := workflow.LoadDir(cfg.Workflows.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading workflows: %v\n", err)
		os.Exit(1)
	}

	registry := workflow.NewRegistry(activity.NewExecutor(activity.NewRegistry()).Resolver())
	failed := 0
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			fmt.Printf("  [INVALID] %s (%s): %v\n", def.Name, def.Source, err)
			failed++
			continue
		}
		fmt.Printf("  [OK]      %s (%s)\n", def.Name, def.Source)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d workflow(s) are invalid\n", failed, len(defs))
		os.Exit(1)
	}
	fmt.Printf("All %d workflow(s) are valid\n", len(defs))
}

func runMigrate(ctx context.Context, cfg *config.Config) {
	if cfg.Store.Driver != store.DriverPostgres {
		fmt.Fprintf(os.Stderr, "Error: migrate requires store driver %q, got %q\n", store.DriverPostgres, cfg.Store.Driver)
		os.Exit(1)
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Store.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close(context.Background())

	if err := pg.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		os.Exit(1)
	}

	version, err := pg.MigrationVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading migration version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migrations applied successfully, version %d\n", version)
}
