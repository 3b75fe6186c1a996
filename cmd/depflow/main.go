// Command depflow is a dependency-aware task manager CLI.
// Tasks live in a local SQLite database; dependency edges are validated
// against cycles before they are committed.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/depflow/config"
	"github.com/GoCodeAlone/depflow/internal/version"
	"github.com/GoCodeAlone/depflow/manager"
	"github.com/GoCodeAlone/depflow/task"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dbPath     = flag.String("db", "", "path to SQLite DB (default: $DEPFLOW_DB or ~/.depflow/depflow.db)")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	if cmd == "version" {
		fmt.Printf("depflow %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	path, err := cfg.ResolveDBPath(*dbPath)
	if err != nil {
		fatal(err)
	}
	store, err := task.NewSQLiteStore(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	mgr, err := manager.New(store, logger)
	if err != nil {
		fatal(err)
	}

	switch cmd {
	case "add-task":
		err = cmdAddTask(mgr, rest)
	case "add-dep":
		err = cmdAddDep(mgr, rest)
	case "remove-dep":
		err = cmdRemoveDep(mgr, rest)
	case "delete-task":
		err = cmdDeleteTask(mgr, rest)
	case "list":
		err = cmdList(mgr, rest)
	case "order":
		err = cmdOrder(mgr)
	case "next":
		err = cmdNext(mgr)
	case "set-status":
		err = cmdSetStatus(mgr, rest)
	case "export":
		err = cmdExport(mgr, rest)
	case "import":
		err = cmdImport(mgr, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprint(os.Stderr, `depflow — dependency-aware task manager

Usage:
  depflow [flags] <command> [args]

Flags:
  --config <path>  YAML config file
  --db     <path>  SQLite DB path (or $DEPFLOW_DB; default ~/.depflow/depflow.db)

Commands:
  version                        print version
  add-task [flags] <title>       create a task (-d desc, -p priority, --due YYYY-MM-DD, --tags a,b, --deps id,id)
  add-dep <task> <depends-on>    add a validated dependency edge
  remove-dep <task> <depends-on> remove a dependency edge
  delete-task <id>               delete a task nothing depends on
  list [--status st]             list all tasks
  order                          print topological execution order
  next                           print pending tasks whose prerequisites are done
  set-status <id> <status>       set status (pending, in_progress, done, blocked)
  export [--out file]            write a JSON snapshot (default stdout)
  import <file>                  replace all tasks from a JSON snapshot
`)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func cmdAddTask(mgr *manager.Manager, args []string) error {
	fs := flag.NewFlagSet("add-task", flag.ExitOnError)
	desc := fs.String("d", "", "longer description")
	priority := fs.Int("p", 0, "priority (higher = more important)")
	due := fs.String("due", "", "due date in YYYY-MM-DD")
	tags := fs.String("tags", "", "comma-separated tags")
	deps := fs.String("deps", "", "comma-separated dependency task IDs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: add-task [flags] <title>")
	}

	opts := manager.CreateOptions{
		Description: *desc,
		Priority:    *priority,
		Tags:        splitList(*tags),
		DependsOn:   splitList(*deps),
	}
	if *due != "" {
		d, err := time.Parse("2006-01-02", *due)
		if err != nil {
			return fmt.Errorf("invalid due date %q (use YYYY-MM-DD)", *due)
		}
		opts.Due = &d
	}

	t, err := mgr.CreateTask(fs.Arg(0), opts)
	if err != nil {
		return err
	}
	fmt.Printf("Added task %s: %s\n", t.ID, t.Title)
	return nil
}

func cmdAddDep(mgr *manager.Manager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: add-dep <task-id> <depends-on-id>")
	}
	return mgr.AddDependency(args[0], args[1])
}

func cmdRemoveDep(mgr *manager.Manager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: remove-dep <task-id> <depends-on-id>")
	}
	return mgr.RemoveDependency(args[0], args[1])
}

func cmdDeleteTask(mgr *manager.Manager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete-task <id>")
	}
	return mgr.DeleteTask(args[0])
}

func cmdList(mgr *manager.Manager, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	statusArg := fs.String("status", "", "filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter *task.Status
	if *statusArg != "" {
		st, err := task.ParseStatus(*statusArg)
		if err != nil {
			return err
		}
		filter = &st
	}

	tasks, err := mgr.ListTasks(filter)
	if err != nil {
		return err
	}
	printTasks(tasks)
	return nil
}

func cmdOrder(mgr *manager.Manager) error {
	tasks, err := mgr.ExecutionOrder()
	if err != nil {
		return err
	}
	for i, t := range tasks {
		fmt.Printf("%3d. %s  %s\n", i+1, t.ID, t.Title)
	}
	return nil
}

func cmdNext(mgr *manager.Manager) error {
	tasks, err := mgr.ReadyTasks()
	if err != nil {
		return err
	}
	printTasks(tasks)
	return nil
}

func cmdSetStatus(mgr *manager.Manager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set-status <id> <status>")
	}
	st, err := task.ParseStatus(args[1])
	if err != nil {
		return err
	}
	return mgr.UpdateStatus(args[0], st)
}

func cmdExport(mgr *manager.Manager, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return mgr.Export(os.Stdout)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	defer f.Close()
	return mgr.Export(f)
}

func cmdImport(mgr *manager.Manager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()
	return mgr.Import(f)
}

func printTasks(tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRI\tDUE\tDEPS\tTITLE")
	for _, t := range tasks {
		due := ""
		if t.Due != nil {
			due = t.Due.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			t.ID, statusLabel(t.Status), t.Priority, due, len(t.DependsOn), t.Title)
	}
	w.Flush()
}

// statusLabel renders a status for display, e.g. "in_progress" -> "In Progress".
func statusLabel(s task.Status) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
