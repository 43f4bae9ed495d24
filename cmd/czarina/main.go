// Command czarina orchestrates phased multi-agent work on a git repository.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/czarina-dev/czarina/internal/buildinfo"
	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/daemon"
	"github.com/czarina-dev/czarina/internal/dag"
	"github.com/czarina-dev/czarina/internal/events"
	"github.com/czarina-dev/czarina/internal/phase"
	"github.com/czarina-dev/czarina/internal/repo"
	"github.com/czarina-dev/czarina/internal/signal"
	"github.com/czarina-dev/czarina/internal/status"
	"github.com/czarina-dev/czarina/internal/supervisor"
	"github.com/czarina-dev/czarina/internal/tui"
)

const usage = `czarina - phase orchestrator for autonomous coding agents

USAGE:
    czarina <command> [command options]

COMMANDS:
    init               Scaffold the .czarina/ state directory in this repository
    validate           Check the project configuration, including the dependency graph
    check-completion   Evaluate worker completion signals for the current phase
    close-phase        Archive the current phase and advance the configuration
    phase              Inspect phases (phase list)
    launch             Launch a worker, or every unblocked worker with --all
    status             Show worker states, signals, and daemon liveness
    daemon             Run the monitor loop in the foreground
    version            Print version and build information

Run 'czarina <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	command := os.Args[1]
	commandArgs := os.Args[2:]

	switch command {
	case "init":
		runInit(commandArgs)
	case "validate":
		runValidate(commandArgs)
	case "check-completion":
		runCheckCompletion(commandArgs)
	case "close-phase":
		runClosePhase(commandArgs)
	case "phase":
		runPhase(commandArgs)
	case "launch":
		runLaunch(commandArgs)
	case "status":
		runStatus(commandArgs)
	case "daemon":
		runDaemon(commandArgs)
	case "version":
		runVersion()
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "czarina: unknown command %q\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// warnToStderr prefixes warnings the way the daemon log readers expect.
func warnToStderr(message string) {
	fmt.Fprintf(os.Stderr, "warning: %s\n", message)
}

// mustRepoRoot resolves the enclosing git repository or exits.
func mustRepoRoot() string {
	repoRoot, err := repo.DiscoverRootFromCWD()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	return repoRoot
}

// mustConfig loads and validates the project configuration or exits.
func mustConfig(repoRoot string) config.Config {
	cfg, err := config.Load(config.Path(repoRoot), warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	return cfg
}

func runInit(args []string) {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	name := flags.String("name", "", "")
	omnibus := flags.String("omnibus", "", "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina init [--name NAME] [--omnibus BRANCH]

DESCRIPTION:
    Scaffold the .czarina/ directory with a phase-1 configuration, log and
    status directories, and archive space. Refuses to overwrite an
    existing configuration.

OPTIONS:
    --name NAME        Project name (default: repository directory name)
    --omnibus BRANCH   Phase-1 integration branch (default: cz1/omnibus)
    -h, --help         Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina init: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	projectName := *name
	if projectName == "" {
		projectName = filepath.Base(repoRoot)
	}
	cfg, err := config.InitLayout(repoRoot, config.InitOptions{
		ProjectName:   projectName,
		OmnibusBranch: *omnibus,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Printf("initialized %s (phase %d, omnibus %s)\n", cfg.Project.Slug, cfg.Project.Phase, cfg.Project.OmnibusBranch)
}

func runValidate(args []string) {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina validate

DESCRIPTION:
    Load the project configuration and report every validation issue:
    identity fields, completion mode, worker branch prefixes, and the
    dependency graph (self-references, missing workers, cycles).

OPTIONS:
    -h, --help    Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina validate: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	cfg, err := config.Load(config.Path(repoRoot), warnToStderr)
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) && cfgErr.Kind == config.ValidationFailure {
			for _, issue := range cfgErr.Issues {
				fmt.Fprintln(os.Stderr, issue.String())
			}
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	fmt.Printf("config ok: %d workers in phase %d\n", len(cfg.Workers), cfg.Project.Phase)
}

func runCheckCompletion(args []string) {
	flags := flag.NewFlagSet("check-completion", flag.ExitOnError)
	phaseFlag := flags.Int("phase", 0, "")
	jsonOut := flags.Bool("json", false, "")
	verbose := flags.Bool("verbose", false, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina check-completion [--phase N] [--json] [--verbose]

DESCRIPTION:
    Collect the three completion signals for every worker and evaluate
    them under the configured completion mode. Exits 0 when the phase is
    complete, 1 when workers remain, 2 on error.

OPTIONS:
    --phase N     Check against phase N instead of the configured phase
    --json        Emit the full report as JSON
    --verbose     Show each worker's individual signals
    -h, --help    Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina check-completion: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	cfg := mustConfig(repoRoot)
	if *phaseFlag > 0 && *phaseFlag != cfg.Project.Phase {
		fmt.Fprintf(os.Stderr, "phase %d is not the configured phase (%d); archives are the record for closed phases\n", *phaseFlag, cfg.Project.Phase)
		os.Exit(2)
	}

	report, err := status.Gather(repoRoot, cfg, warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if *jsonOut {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		fmt.Println(string(encoded))
	} else {
		for _, worker := range report.Workers {
			if *verbose {
				fmt.Printf("%-14s %-12s marker=%t merged=%t status=%t\n",
					worker.ID, worker.State, worker.LogMarker, worker.BranchMerged, worker.StatusComplete)
			} else {
				fmt.Printf("%-14s %s\n", worker.ID, worker.State)
			}
		}
		if report.PhaseComplete {
			fmt.Printf("phase %d complete (%s mode)\n", report.Phase, report.Mode)
		} else {
			fmt.Printf("phase %d incomplete: %v\n", report.Phase, report.Incomplete)
		}
	}

	if !report.PhaseComplete {
		os.Exit(1)
	}
}

func runClosePhase(args []string) {
	flags := flag.NewFlagSet("close-phase", flag.ExitOnError)
	force := flags.Bool("force", false, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina close-phase [--force]

DESCRIPTION:
    Verify completion, snapshot the phase into .czarina/archives/, and
    advance the configuration to the next phase. The next phase is never
    launched automatically. A stalled close is retryable.

OPTIONS:
    --force       Close even with incomplete workers
    -h, --help    Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina close-phase: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	cfg := mustConfig(repoRoot)

	collector, err := signal.NewCollector(repoRoot, cfg, warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	results := collector.CollectAll(cfg.Workers, cfg.Thresholds.CollectConcurrency)
	verdicts := completion.Evaluate(results, cfg.Mode)

	appender, err := events.NewAppender(config.EventsPath(repoRoot), os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	engine := phase.NewEngine(repoRoot, appender, warnToStderr)
	result, resumed, err := engine.Resume(context.Background(), cfg, verdicts)
	if err == nil && !resumed {
		result, err = engine.Close(context.Background(), cfg, verdicts, *force)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, phase.ErrIncomplete) {
			os.Exit(1)
		}
		os.Exit(2)
	}
	if len(result.Forced) > 0 {
		fmt.Fprintf(os.Stderr, "warning: closed with incomplete workers: %v\n", result.Forced)
	}
	fmt.Printf("phase %d archived to %s; now at phase %d\n", result.ClosedPhase, result.ArchivePath, result.NextPhase)
	fmt.Println("configure workers for the new phase and launch them when ready")
}

func runPhase(args []string) {
	if len(args) < 1 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: czarina phase list")
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	cfg := mustConfig(repoRoot)

	entries, err := os.ReadDir(config.ArchivesDir(repoRoot))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Printf("%-24s archived\n", entry.Name())
		}
	}
	fmt.Printf("%-24s current (%d workers)\n", fmt.Sprintf("phase-%d-%s", cfg.Project.Phase, cfg.Project.Slug), len(cfg.Workers))
}

func runLaunch(args []string) {
	flags := flag.NewFlagSet("launch", flag.ExitOnError)
	all := flags.Bool("all", false, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina launch <worker-id>
    czarina launch --all

DESCRIPTION:
    Launch a worker into its isolated worktree. A worker with incomplete
    dependencies is refused. With --all, every unblocked, not-yet-running
    worker launches in dependency order.

OPTIONS:
    --all         Launch every eligible worker
    -h, --help    Show this help message
`)
	}
	flags.Parse(args)

	repoRoot := mustRepoRoot()
	cfg := mustConfig(repoRoot)

	collector, err := signal.NewCollector(repoRoot, cfg, warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	results := collector.CollectAll(cfg.Workers, cfg.Thresholds.CollectConcurrency)
	verdicts := completion.Evaluate(results, cfg.Mode)
	complete := make(map[string]bool, len(verdicts))
	for _, verdict := range verdicts {
		if verdict.Complete {
			complete[verdict.Spec.ID] = true
		}
	}

	appender, err := events.NewAppender(config.EventsPath(repoRoot), os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	launcher, err := supervisor.NewLauncher(repoRoot, cfg, appender, warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if *all {
		if flags.NArg() > 0 {
			fmt.Fprintf(os.Stderr, "czarina launch: --all takes no worker id\n\n")
			flags.Usage()
			os.Exit(2)
		}
		launched, err := launcher.LaunchReady(complete)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Printf("launched %d workers\n", len(launched))
		return
	}

	if flags.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "czarina launch: exactly one worker id is required\n\n")
		flags.Usage()
		os.Exit(2)
	}
	workerID := flags.Arg(0)
	result, err := launcher.Launch(workerID, complete)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Printf("launched %s (pid %d, log %s)\n", workerID, result.PID, result.LogPath)
}

func runStatus(args []string) {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	watch := flags.Bool("watch", false, "")
	jsonOut := flags.Bool("json", false, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina status [--watch] [--json]

DESCRIPTION:
    Show worker runtime states, completion signals, the dependency graph,
    and daemon liveness. With --watch, open an interactive view that
    refreshes every two seconds.

OPTIONS:
    --watch       Interactive refreshing view
    --json        Emit the full report as JSON
    -h, --help    Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina status: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	if *watch {
		if err := tui.Run(repoRoot); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}

	cfg := mustConfig(repoRoot)
	report, err := status.Gather(repoRoot, cfg, warnToStderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if *jsonOut {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Println(string(encoded))
		return
	}
	fmt.Println(dag.GetSummary(report).String())
	if report.Daemon.Running {
		fmt.Printf("daemon running (pid %d, last tick %s)\n", report.Daemon.PID, report.Daemon.LastTick.Format(time.RFC3339))
	} else {
		fmt.Println("daemon not running")
	}
}

func runDaemon(args []string) {
	flags := flag.NewFlagSet("daemon", flag.ExitOnError)
	interval := flags.Int("interval", 0, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    czarina daemon [--interval SECONDS]

DESCRIPTION:
    Run the monitor loop in the foreground: collect completion signals,
    track worker states, launch dependency-gated workers, and persist run
    state every tick. One daemon per repository; an interrupted phase
    close is resumed on startup. Stop with SIGINT or SIGTERM.

OPTIONS:
    --interval SECONDS   Override the configured tick interval
    -h, --help           Show this help message
`)
	}
	flags.Parse(args)
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "czarina daemon: unexpected arguments\n\n")
		flags.Usage()
		os.Exit(2)
	}

	repoRoot := mustRepoRoot()
	opts := daemon.Options{Warn: warnToStderr}
	if *interval > 0 {
		opts.Interval = time.Duration(*interval) * time.Second
	}
	runner, err := daemon.New(repoRoot, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signalContext()
	defer stop()
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runVersion() {
	fmt.Println(buildinfo.String())
}
