// Package cli provides command definitions for calmirror.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"calmirror/internal/calendar"
	"calmirror/internal/config"
	"calmirror/internal/state"
	"calmirror/internal/sync"
	"calmirror/internal/ui"
	"calmirror/internal/ui/tui"
)

// pairFlags are the calendar selection flags shared by sync, refresh and
// clear.
func pairFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "source-calendar",
			Aliases: []string{"s"},
			Usage:   "Source calendar name (overrides config)",
		},
		&cli.StringFlag{
			Name:    "target-calendar",
			Aliases: []string{"t"},
			Usage:   "Target calendar name (overrides config)",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"n"},
			Usage:   "Preview changes without applying",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Skip confirmation prompt",
		},
	}
}

func syncCommand() *cli.Command {
	flags := append(pairFlags(),
		&cli.StringFlag{
			Name:    "direction",
			Aliases: []string{"d"},
			Usage:   "Sync direction: both, to-target, to-source",
		},
		&cli.BoolFlag{
			Name:  "keep-reminders",
			Usage: "Preserve reminders on mirrored events (stripped by default to avoid duplicate notifications)",
		},
	)
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize the calendar pair (bidirectional by default)",
		Description: `Mirror events between the configured calendar pair.

   With no configured pair and no flags, launches an interactive picker.

   Examples:
     calmirror sync
     calmirror sync --direction to-target --dry-run
     calmirror sync -s work -t personal --keep-reminders`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer env.close()

			direction := cmd.String("direction")
			if direction == "" {
				direction = env.cfg.Sync.Direction
			}

			var stats sync.Stats
			switch direction {
			case config.DirectionBoth:
				stats, err = env.engine.Bidirectional(ctx)
			case config.DirectionToTarget:
				stats, err = env.engine.Forward(ctx)
			case config.DirectionToSource:
				stats, err = env.engine.Reverse(ctx)
			default:
				return fmt.Errorf("unknown direction %q (want both, to-target or to-source)", direction)
			}
			if err != nil {
				return err
			}
			return report(stats, cmd.Bool("dry-run"))
		},
	}
}

func refreshCommand() *cli.Command {
	flags := append(pairFlags(),
		&cli.StringFlag{
			Name:    "direction",
			Aliases: []string{"d"},
			Usage:   "Direction of the rebuild sync: both, to-target, to-source",
		},
		&cli.BoolFlag{
			Name:  "keep-reminders",
			Usage: "Preserve reminders on mirrored events",
		},
	)
	return &cli.Command{
		Name:  "refresh",
		Usage: "Remove synced events then re-sync from scratch",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer env.close()

			ok, err := confirm(cmd, "Remove all mirrored events and rebuild them?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			stats, err := env.engine.Refresh(ctx)
			if err != nil {
				return err
			}

			direction := cmd.String("direction")
			if direction == "" {
				direction = env.cfg.Sync.Direction
			}
			var rebuild sync.Stats
			switch direction {
			case config.DirectionBoth:
				rebuild, err = env.engine.Bidirectional(ctx)
			case config.DirectionToTarget:
				rebuild, err = env.engine.Forward(ctx)
			case config.DirectionToSource:
				rebuild, err = env.engine.Reverse(ctx)
			default:
				return fmt.Errorf("unknown direction %q (want both, to-target or to-source)", direction)
			}
			if err != nil {
				return err
			}

			fmt.Println(ui.Dim(fmt.Sprintf("removed %d stale mirrors", stats.Deleted)))
			rebuild.Errors += stats.Errors
			return report(rebuild, cmd.Bool("dry-run"))
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove mirrored events from both calendars without re-syncing",
		Flags: pairFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer env.close()

			ok, err := confirm(cmd, "Remove all mirrored events from both calendars?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			stats, err := env.engine.Clear(ctx)
			if err != nil {
				return err
			}
			return report(stats, cmd.Bool("dry-run"))
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show tracked mirror counts for every calendar pair",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dbPath := cmd.String("state-db")
			if dbPath == "" {
				dbPath = cfg.StateDB
			}

			rows, err := state.StatusAllPairs(dbPath)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println(ui.Dim("no sync state recorded"))
				return nil
			}

			fmt.Println(ui.Header(fmt.Sprintf("%-30s %-8s %8s  %s", "PAIR", "ORIGIN", "MIRRORS", "LAST SYNC")))
			for _, row := range rows {
				last := "never"
				if row.LastSyncAt > 0 {
					last = time.Unix(row.LastSyncAt, 0).Format("2006-01-02 15:04")
				}
				fmt.Printf("%-30s %-8s %8d  %s\n", row.Pair, row.Origin, row.Count, ui.Dim(last))
			}
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List calendars found under the configured calendar root",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			names, err := calendar.Discover(cfg.CalendarRoot)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println(ui.Dim(fmt.Sprintf("no calendars under %s", cfg.CalendarRoot)))
				return nil
			}
			for _, name := range names {
				marker := " "
				switch name {
				case cfg.SourceCalendar:
					marker = ui.Info("s")
				case cfg.TargetCalendar:
					marker = ui.Info("t")
				}
				fmt.Printf("%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Rewrite a calendar name in recorded sync state",
		ArgsUsage: "<old-name> <new-name>",
		Description: `Rewrite every state record referencing a calendar by its old name.
   Use after renaming a calendar directory, which would otherwise orphan
   its sync records.

   Examples:
     calmirror migrate personal home
     calmirror migrate personal home --dry-run`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "Count matching records without rewriting",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 2 {
				return errors.New("usage: calmirror migrate <old-name> <new-name>")
			}
			oldName, newName := args.Get(0), args.Get(1)
			if oldName == newName {
				return errors.New("old and new calendar name must differ")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dbPath := cmd.String("state-db")
			if dbPath == "" {
				dbPath = cfg.StateDB
			}

			ok, err := confirm(cmd, fmt.Sprintf("Rewrite state records from %q to %q?", oldName, newName))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			n, err := state.RenameCalendar(dbPath, oldName, newName, cmd.Bool("dry-run"))
			if err != nil {
				return err
			}
			if cmd.Bool("dry-run") {
				fmt.Println(ui.Dim(fmt.Sprintf("would rewrite %d record(s)", n)))
				return nil
			}
			fmt.Println(ui.StatusSuccess(fmt.Sprintf("rewrote %d record(s)", n)))
			return nil
		},
	}
}

// env bundles what a sync-family command needs at run time.
type env struct {
	cfg    *config.Config
	engine *sync.Engine
	store  *state.Store
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setup loads config, resolves the calendar pair, opens the state store and
// builds the engine. Destructive marks commands allowed to purge ambiguous
// legacy state rows during migration.
func setup(cmd *cli.Command, destructive bool) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	sourceName, targetName, err := resolvePair(cmd, cfg)
	if err != nil {
		return nil, err
	}

	source, err := calendar.NewDirClient(sourceName, calendarDir(cfg, sourceName))
	if err != nil {
		return nil, fmt.Errorf("open source calendar: %w", err)
	}
	target, err := calendar.NewDirClient(targetName, calendarDir(cfg, targetName))
	if err != nil {
		return nil, fmt.Errorf("open target calendar: %w", err)
	}

	dbPath := cmd.String("state-db")
	if dbPath == "" {
		dbPath = cfg.StateDB
	}
	store, err := state.Open(dbPath, state.Pair{
		SourceCalendarID: sourceName,
		TargetCalendarID: targetName,
	})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if err := store.Migrate(destructive); err != nil {
		store.Close()
		if state.IsMigrationRefusal(err) {
			fmt.Println(ui.StatusWarning("the state database needs a destructive migration"))
			fmt.Println(ui.Dim("run 'calmirror refresh' or 'calmirror clear' to rebuild it"))
		}
		return nil, err
	}

	opts := sync.Options{
		KeepReminders: cmd.Bool("keep-reminders") || cfg.Sync.KeepReminders,
		DryRun:        cmd.Bool("dry-run"),
	}
	return &env{
		cfg:    cfg,
		engine: sync.New(source, target, store, opts),
		store:  store,
	}, nil
}

func calendarDir(cfg *config.Config, name string) string {
	return filepath.Join(cfg.CalendarRoot, name)
}

// resolvePair picks the calendar pair from flags, then config, then an
// interactive picker when attached to a terminal.
func resolvePair(cmd *cli.Command, cfg *config.Config) (string, string, error) {
	source := cmd.String("source-calendar")
	if source == "" {
		source = cfg.SourceCalendar
	}
	target := cmd.String("target-calendar")
	if target == "" {
		target = cfg.TargetCalendar
	}
	if source != "" && target != "" {
		if source == target {
			return "", "", errors.New("source and target calendar must differ")
		}
		return source, target, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", "", errors.New("no calendar pair configured: set source_calendar and target_calendar in the config file or pass --source-calendar/--target-calendar")
	}

	names, err := calendar.Discover(cfg.CalendarRoot)
	if err != nil {
		return "", "", err
	}
	result, err := tui.RunPairPicker(names)
	if err != nil {
		return "", "", err
	}
	if result.Action != tui.PairPickerActionSelect {
		return "", "", errors.New("no calendar pair selected")
	}
	return result.Source, result.Target, nil
}

// confirm asks the user to approve a destructive operation unless --yes or
// --dry-run was given.
func confirm(cmd *cli.Command, prompt string) (bool, error) {
	if cmd.Bool("yes") || cmd.Bool("dry-run") {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("refusing destructive operation without a terminal; pass --yes to proceed")
	}
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// report prints the run summary and maps per-event failures to a non-zero
// exit.
func report(stats sync.Stats, dryRun bool) error {
	summary := stats.Summary()
	if dryRun {
		summary += " (dry run)"
	}
	if stats.Failed() {
		fmt.Println(ui.StatusError(summary))
		return cli.Exit("sync finished with errors", 1)
	}
	fmt.Println(ui.StatusSuccess(summary))
	return nil
}
