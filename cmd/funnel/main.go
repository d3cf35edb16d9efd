package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/charmbracelet/fang"
	"github.com/evanschultz/funnel/internal/adapters/server"
	"github.com/evanschultz/funnel/internal/adapters/server/common"
	"github.com/evanschultz/funnel/internal/adapters/storage/sqlite"
	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/commands"
	"github.com/evanschultz/funnel/internal/config"
	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
	"github.com/evanschultz/funnel/internal/platform"
	"github.com/evanschultz/funnel/internal/tui"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is stamped at release build time.
var version = "dev"

// program is the part of tea.Program the root command needs.
type program interface {
	Run() (tea.Model, error)
}

// programFactory builds the TUI program; tests replace it.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow; tests replace it.
var serveCommandRunner = func(ctx context.Context, cfg server.Config, deps server.Dependencies) error {
	return server.Run(ctx, cfg, deps)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes the CLI with args and returns the command error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// globalOptions holds flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// newRootCommand assembles the command tree. The root command runs the TUI.
func newRootCommand(stderr io.Writer) *cobra.Command {
	opts := &globalOptions{appName: platform.DefaultAppName, devMode: version == "dev"}
	if envApp := strings.TrimSpace(os.Getenv("FUNNEL_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}
	if envDev, ok := parseBoolEnv("FUNNEL_DEV_MODE"); ok {
		opts.devMode = envDev
	}

	var openFunnel string
	root := &cobra.Command{
		Use:           "funnel",
		Short:         "Edit sales funnels with full undo history",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runTUI(opts, stderr, openFunnel)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")
	root.Flags().StringVar(&openFunnel, "open", "", "open this funnel id in the editor on launch")

	root.AddCommand(
		newPathsCommand(opts),
		newCreateCommand(opts, stderr),
		newListCommand(opts, stderr),
		newArchiveCommand(opts, stderr),
		newRestoreCommand(opts, stderr),
		newDeleteCommand(opts, stderr),
		newHistoryCommand(opts, stderr),
		newApplyCommand(opts, stderr),
		newExportCommand(opts, stderr),
		newImportCommand(opts, stderr),
		newServeCommand(opts, stderr),
	)
	return root
}

// runTUI opens the editor with console logging muted.
func runTUI(opts *globalOptions, stderr io.Writer, openFunnel string) error {
	env, err := openRuntime(opts, "tui", stderr)
	if err != nil {
		return err
	}
	defer env.Close(stderr)

	keys := commands.NewKeys(commands.KeyConfig{
		Undo:         env.cfg.Keys.Undo,
		Redo:         env.cfg.Keys.Redo,
		RedoAlt:      env.cfg.Keys.RedoAlt,
		HistoryPanel: env.cfg.Keys.HistoryPanel,
		Save:         env.cfg.Keys.Save,
	})
	modelOpts := []tui.Option{tui.WithHistoryKeys(keys)}
	if id := strings.TrimSpace(openFunnel); id != "" {
		modelOpts = append(modelOpts, tui.WithOpenFunnel(id))
	}

	env.logger.Info("starting tui program loop")
	if _, err := programFactory(tui.NewModel(env.svc, modelOpts...)).Run(); err != nil {
		env.logger.Error("tui program terminated with error", "err", err)
		return fmt.Errorf("run tui program: %w", err)
	}
	env.logger.Info("command flow complete", "command", "tui")
	return nil
}

// newPathsCommand prints the resolved runtime paths without opening storage.
func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: opts.appName, DevMode: opts.devMode})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

// newCreateCommand creates one funnel, optionally with steps.
func newCreateCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var (
		description string
		rawSteps    []string
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := make([]app.StepInput, 0, len(rawSteps))
			for _, raw := range rawSteps {
				step, err := parseStepFlag(raw)
				if err != nil {
					return err
				}
				steps = append(steps, step)
			}
			return withRuntime(opts, "new", stderr, func(env *runtimeEnv) error {
				f, err := env.svc.CreateFunnelWithSteps(cmd.Context(), app.CreateFunnelInput{
					Name:        args[0],
					Description: description,
					Steps:       steps,
				})
				if err != nil {
					return fmt.Errorf("create funnel: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t/%s\n", f.ID, f.Slug)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "markdown description")
	cmd.Flags().StringArrayVar(&rawSteps, "step", nil, "step as name or name:kind (repeatable)")
	return cmd
}

// newListCommand prints stored funnels as a table.
func newListCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List funnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, "list", stderr, func(env *runtimeEnv) error {
				funnels, err := env.svc.ListFunnels(cmd.Context(), includeArchived)
				if err != nil {
					return fmt.Errorf("list funnels: %w", err)
				}
				if len(funnels) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no funnels")
					return nil
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderFunnelTable(funnels))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived funnels")
	return cmd
}

// newArchiveCommand hides a funnel from the default list.
func newArchiveCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, "archive", stderr, func(env *runtimeEnv) error {
				f, err := env.svc.ArchiveFunnel(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("archive funnel: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%s)\n", f.ID, f.Name)
				return nil
			})
		},
	}
}

// newRestoreCommand brings an archived funnel back.
func newRestoreCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, "restore", stderr, func(env *runtimeEnv) error {
				f, err := env.svc.RestoreFunnel(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("restore funnel: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %s (%s)\n", f.ID, f.Name)
				return nil
			})
		},
	}
}

// newDeleteCommand archives or removes a funnel. Without --mode the
// [delete] default_mode config value decides.
func newDeleteCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a funnel (archive or hard, per config)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, "delete", stderr, func(env *runtimeEnv) error {
				resolved := env.svc.ResolveDeleteMode(app.DeleteMode(mode))
				if err := env.svc.DeleteFunnel(cmd.Context(), args[0], resolved); err != nil {
					return fmt.Errorf("delete funnel: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", strings.TrimSpace(args[0]), resolved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "archive or hard; defaults to [delete] default_mode")
	return cmd
}

// renderFunnelTable formats funnels for terminal output.
func renderFunnelTable(funnels []domain.Funnel) string {
	rows := make([][]string, 0, len(funnels))
	for _, f := range funnels {
		status := string(f.Status)
		if f.ArchivedAt != nil {
			status += " (archived)"
		}
		rows = append(rows, []string{f.ID, f.Name, "/" + f.Slug, status, strconv.Itoa(len(f.Steps))})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "SLUG", "STATUS", "STEPS").
		Rows(rows...).
		String()
}

// newHistoryCommand replays a patch file through an editing session and
// prints the resulting timeline.
func newHistoryCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var (
		patchesPath string
		undoCount   int
		save        bool
		eventLimit  int
	)
	cmd := &cobra.Command{
		Use:   "history <funnel-id>",
		Short: "Replay patches through a session and print its undo timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patches []app.FunnelPatch
			if patchesPath != "" {
				var err error
				if patches, err = readPatchList(patchesPath); err != nil {
					return err
				}
			}
			return withRuntime(opts, "history", stderr, func(env *runtimeEnv) error {
				ctx := cmd.Context()
				sess, err := env.svc.OpenSession(ctx, args[0])
				if err != nil {
					return fmt.Errorf("open session: %w", err)
				}
				defer sess.Close()

				for i, patch := range patches {
					if _, err := sess.ApplyPatch(ctx, "", patch); err != nil {
						return fmt.Errorf("apply patch %d: %w", i+1, err)
					}
				}
				for range undoCount {
					if !sess.Undo().OK {
						break
					}
				}

				out := cmd.OutOrStdout()
				writeTimeline(out, sess.Timeline())
				_, _ = fmt.Fprintf(out, "can_undo: %t  can_redo: %t  dirty: %t\n", sess.CanUndo(), sess.CanRedo(), sess.Dirty())
				if save {
					if _, err := sess.Save(ctx); err != nil {
						return fmt.Errorf("save funnel: %w", err)
					}
					_, _ = fmt.Fprintln(out, "saved")
				}
				if eventLimit > 0 {
					events, err := env.svc.ListFunnelChangeEvents(ctx, args[0], eventLimit)
					if err != nil {
						return fmt.Errorf("list change events: %w", err)
					}
					writeChangeEvents(out, events)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&patchesPath, "patches", "", "JSON file holding an array of funnel patches")
	cmd.Flags().IntVar(&undoCount, "undo", 0, "undo this many entries after replaying")
	cmd.Flags().BoolVar(&save, "save", false, "persist the resulting funnel")
	cmd.Flags().IntVar(&eventLimit, "events", 0, "also print this many persisted change events")
	return cmd
}

// writeTimeline prints applied entries with ● and undone entries with ○.
func writeTimeline(out io.Writer, timeline []history.TimelineItem) {
	if len(timeline) == 0 {
		_, _ = fmt.Fprintln(out, "no history")
		return
	}
	for _, item := range timeline {
		marker := "○"
		if item.Applied {
			marker = "●"
		}
		source := string(item.Source)
		if item.BatchID != "" {
			source += "#" + item.BatchID
		}
		_, _ = fmt.Fprintf(out, "%s %s  %s  %s\n", marker, item.Label, source, item.Timestamp.Format(time.RFC3339))
	}
}

// writeChangeEvents prints persisted change events newest first.
func writeChangeEvents(out io.Writer, events []domain.ChangeEvent) {
	for _, event := range events {
		_, _ = fmt.Fprintf(out, "event %s by %s (%s) at %s\n", event.Operation, event.ActorID, event.ActorType, event.OccurredAt.Format(time.RFC3339))
	}
}

// newApplyCommand applies an AI batch file to a funnel and saves the result.
func newApplyCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var (
		batchPath string
		agentName string
		noSave    bool
	)
	cmd := &cobra.Command{
		Use:   "apply <funnel-id>",
		Short: "Apply an AI batch file as one undoable group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(batchPath) == "" {
				return errors.New("--file is required")
			}
			batch, err := readBatch(batchPath)
			if err != nil {
				return err
			}
			return withRuntime(opts, "apply", stderr, func(env *runtimeEnv) error {
				ctx := app.WithMutationActor(cmd.Context(), app.MutationActor{
					ActorID:   agentName,
					ActorType: domain.ActorTypeAgent,
				})
				sess, err := env.svc.OpenSession(ctx, args[0])
				if err != nil {
					return fmt.Errorf("open session: %w", err)
				}
				defer sess.Close()

				result, err := sess.ApplyAIBatch(ctx, batch)
				if err != nil {
					env.logger.Warn("ai batch failed", "funnel_id", args[0], "batch_id", result.BatchID, "applied", result.Applied, "err", err)
					return fmt.Errorf("apply batch: %w", err)
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "applied %d patches in batch %s\n", result.Applied, result.BatchID)
				if noSave {
					return nil
				}
				if _, err := sess.Save(ctx); err != nil {
					return fmt.Errorf("save funnel: %w", err)
				}
				_, _ = fmt.Fprintln(out, "saved")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&batchPath, "file", "", "JSON AI batch file")
	cmd.Flags().StringVar(&agentName, "agent", "funnel-agent", "agent id recorded on saved changes")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "apply without persisting")
	return cmd
}

// newExportCommand writes a JSON snapshot of stored funnels.
func newExportCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var (
		outPath         string
		includeArchived bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export funnels as a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, "export", stderr, func(env *runtimeEnv) error {
				snap, err := env.svc.ExportSnapshot(cmd.Context(), includeArchived)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				encoded, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot json: %w", err)
				}
				encoded = append(encoded, '\n')
				if outPath == "-" {
					if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
						return fmt.Errorf("write snapshot to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", true, "include archived funnels")
	return cmd
}

// newImportCommand loads a JSON snapshot into storage.
func newImportCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import funnels from a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" {
				return errors.New("--in is required")
			}
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}
			return withRuntime(opts, "import", stderr, func(env *runtimeEnv) error {
				if err := env.svc.ImportSnapshot(cmd.Context(), snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d funnels\n", len(snap.Funnels))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	return cmd
}

// newServeCommand serves the HTTP API and MCP endpoint.
func newServeCommand(opts *globalOptions, stderr io.Writer) *cobra.Command {
	var (
		bind        string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(opts, "serve", stderr, func(env *runtimeEnv) error {
				cfg := server.Config{
					HTTPBind:      firstNonEmpty(bind, env.cfg.Server.HTTPBind),
					APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
					MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
					ServerName:    env.appName,
					ServerVersion: version,
				}
				sessions := app.NewSessions(env.svc)
				defer sessions.CloseAll()
				adapter := common.NewAppServiceAdapter(env.svc, sessions, app.MutationActor{
					ActorID:   env.appName + "-http",
					ActorType: domain.ActorTypeUser,
				})
				env.logger.Info("serve configuration", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
				return serveCommandRunner(cmd.Context(), cfg, server.Dependencies{
					Funnels: adapter,
					Logger:  env.logger.Console(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base path (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP path (default from config)")
	return cmd
}

// runtimeEnv holds the resolved config, logger and storage for one command.
type runtimeEnv struct {
	appName string
	cfg     config.Config
	logger  *runtimeLogger
	repo    *sqlite.Repository
	svc     *app.Service
}

// withRuntime opens the runtime for command, runs fn and closes it again.
func withRuntime(opts *globalOptions, command string, stderr io.Writer, fn func(*runtimeEnv) error) error {
	env, err := openRuntime(opts, command, stderr)
	if err != nil {
		return err
	}
	defer env.Close(stderr)

	env.logger.Info("command flow start", "command", command)
	if err := fn(env); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

// openRuntime resolves paths and config, builds the logger and opens storage.
func openRuntime(opts *globalOptions, command string, stderr io.Writer) (*runtimeEnv, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: opts.appName, DevMode: opts.devMode})
	if err != nil {
		return nil, err
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = firstNonEmpty(strings.TrimSpace(os.Getenv("FUNNEL_CONFIG")), paths.ConfigPath)
	}
	dbPath := strings.TrimSpace(opts.dbPath)
	if dbPath == "" {
		dbPath = strings.TrimSpace(os.Getenv("FUNNEL_DB_PATH"))
	}
	dbOverridden := dbPath != ""
	if !dbOverridden {
		dbPath = paths.DBPath
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if cfg.Logging.DevFile.Dir == "" {
		cfg.Logging.DevFile.Dir = paths.LogDir
	}

	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if command == "tui" {
		logger.SetConsoleEnabled(false)
	}
	logger.Info("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path)

	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		DefaultDeleteMode: app.DeleteMode(cfg.Delete.DefaultMode),
		History: app.HistoryConfig{
			MaxSize:           cfg.History.MaxSize,
			CollapseAIBatches: cfg.History.CollapseAIBatches,
		},
		OnBatchOverwrite: func(funnelID, previousBatchID, nextBatchID string) {
			logger.Warn("ai batch started before the previous one ended", "funnel_id", funnelID, "previous_batch", previousBatchID, "next_batch", nextBatchID)
		},
	})

	return &runtimeEnv{
		appName: opts.appName,
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		svc:     svc,
	}, nil
}

// Close releases storage and the log file.
func (e *runtimeEnv) Close(stderr io.Writer) {
	if err := e.repo.Close(); err != nil {
		e.logger.Warn("sqlite close failed", "db_path", e.cfg.Database.Path, "err", err)
	}
	if err := e.logger.Close(); err != nil && e.logger.shouldLogToSink(e.logger.consoleSink) {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// parseStepFlag parses "name" or "name:kind".
func parseStepFlag(raw string) (app.StepInput, error) {
	raw = strings.TrimSpace(raw)
	name, kind := raw, domain.StepKind("")
	if idx := strings.LastIndex(raw, ":"); idx > 0 {
		name = strings.TrimSpace(raw[:idx])
		kind = domain.StepKind(strings.ToLower(strings.TrimSpace(raw[idx+1:])))
	}
	if name == "" {
		return app.StepInput{}, fmt.Errorf("invalid --step %q: name is required", raw)
	}
	if kind != "" && !isKnownStepKind(kind) {
		return app.StepInput{}, fmt.Errorf("invalid --step %q: unknown kind %q", raw, kind)
	}
	return app.StepInput{Name: name, Kind: kind}, nil
}

func isKnownStepKind(kind domain.StepKind) bool {
	for _, known := range domain.StepKinds {
		if kind == known {
			return true
		}
	}
	return false
}

// readPatchList decodes a JSON array of funnel patches.
func readPatchList(path string) ([]app.FunnelPatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var patches []app.FunnelPatch
	if err := dec.Decode(&patches); err != nil {
		return nil, fmt.Errorf("decode patch file: %w", err)
	}
	for i, patch := range patches {
		if patch.IsEmpty() {
			return nil, fmt.Errorf("patch %d changes nothing", i+1)
		}
	}
	return patches, nil
}

// readBatch decodes an AI batch file.
func readBatch(path string) (app.AIBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return app.AIBatch{}, fmt.Errorf("open batch file: %w", err)
	}
	defer func() { _ = f.Close() }()

	batch, err := app.DecodeAIBatch(f)
	if err != nil {
		return app.AIBatch{}, fmt.Errorf("decode batch file: %w", err)
	}
	return batch, nil
}

// parseBoolEnv reads a boolean environment variable; ok is false when unset or invalid.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
