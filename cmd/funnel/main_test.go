package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/evanschultz/funnel/internal/adapters/server"
	"github.com/evanschultz/funnel/internal/config"
	"github.com/evanschultz/funnel/internal/tui"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("FUNNEL_DEV_MODE", "false")
	_ = os.Unsetenv("FUNNEL_CONFIG")
	_ = os.Unsetenv("FUNNEL_DB_PATH")
	_ = os.Unsetenv("FUNNEL_APP_NAME")
	os.Exit(m.Run())
}

// fakeProgram records the model it was built with.
type fakeProgram struct {
	model  tea.Model
	runErr error
}

// Run returns the model unchanged.
func (f fakeProgram) Run() (tea.Model, error) {
	return f.model, f.runErr
}

// cliEnv points the CLI at a temp config and database.
type cliEnv struct {
	dir    string
	config string
	db     string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	return cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.toml"),
		db:     filepath.Join(dir, "funnel.db"),
	}
}

// run executes the CLI against the env and returns stdout and stderr.
func (e cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.config, "--db", e.db}, args...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test when the command errors.
func (e cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("run(%v) error = %v\nstderr:\n%s", args, err, errOut)
	}
	return out
}

// createFunnel creates a funnel and returns its id.
func (e cliEnv) createFunnel(t *testing.T, args ...string) string {
	t.Helper()
	out := e.mustRun(t, append([]string{"new"}, args...)...)
	id, _, ok := strings.Cut(strings.TrimSpace(out), "\t")
	if !ok || id == "" {
		t.Fatalf("unexpected new output %q", out)
	}
	return id
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// TestRunPathsCommand verifies path output honors the app flag.
func TestRunPathsCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"--app", "funnel-test", "paths"}, &stdout, nil); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"app: funnel-test", "dev_mode: false", "config: ", "db: ", "log_dir: "} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in paths output\n%s", want, out)
		}
	}
}

// TestRunNewListExportImport verifies the storage commands round-trip a funnel.
func TestRunNewListExportImport(t *testing.T) {
	env := newCLIEnv(t)
	env.createFunnel(t, "Launch", "--description", "Sell the **course**", "--step", "Landing:landing", "--step", "Checkout:checkout")

	list := env.mustRun(t, "list")
	for _, want := range []string{"Launch", "/launch", "draft", "2"} {
		if !strings.Contains(list, want) {
			t.Fatalf("expected %q in list output\n%s", want, list)
		}
	}

	exportPath := filepath.Join(env.dir, "out", "snapshot.json")
	env.mustRun(t, "export", "--out", exportPath)
	content, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), `"name": "Launch"`) {
		t.Fatalf("unexpected export content\n%s", content)
	}

	other := newCLIEnv(t)
	out := other.mustRun(t, "import", "--in", exportPath)
	if !strings.Contains(out, "imported 1 funnels") {
		t.Fatalf("unexpected import output %q", out)
	}
	if list := other.mustRun(t, "list"); !strings.Contains(list, "Launch") {
		t.Fatalf("expected imported funnel in list\n%s", list)
	}
}

// TestRunArchiveRestoreDelete verifies lifecycle commands and the configured delete mode.
func TestRunArchiveRestoreDelete(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createFunnel(t, "Launch")

	if out := env.mustRun(t, "archive", id); !strings.Contains(out, "archived "+id+" (Launch)") {
		t.Fatalf("unexpected archive output %q", out)
	}
	if out := env.mustRun(t, "list"); !strings.Contains(out, "no funnels") {
		t.Fatalf("expected archived funnel hidden\n%s", out)
	}
	if out := env.mustRun(t, "list", "--archived"); !strings.Contains(out, "(archived)") {
		t.Fatalf("expected archived marker\n%s", out)
	}
	if out := env.mustRun(t, "restore", id); !strings.Contains(out, "restored "+id) {
		t.Fatalf("unexpected restore output %q", out)
	}
	if out := env.mustRun(t, "delete", id); !strings.Contains(out, "deleted "+id+" (archive)") {
		t.Fatalf("expected default archive delete, got %q", out)
	}
	if out := env.mustRun(t, "list", "--archived"); !strings.Contains(out, "Launch") {
		t.Fatalf("archive-mode delete must keep the funnel\n%s", out)
	}

	writeFile(t, env.config, "[delete]\ndefault_mode = \"hard\"\n")
	if out := env.mustRun(t, "delete", id); !strings.Contains(out, "(hard)") {
		t.Fatalf("expected configured hard delete, got %q", out)
	}
	if out := env.mustRun(t, "list", "--archived"); !strings.Contains(out, "no funnels") {
		t.Fatalf("expected hard delete to remove the funnel\n%s", out)
	}
}

// TestRunApplyBatchSavesFunnel verifies an AI batch file is applied and persisted.
func TestRunApplyBatchSavesFunnel(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createFunnel(t, "Launch")
	batch := writeFile(t, filepath.Join(env.dir, "batch.json"), `{
  "label": "AI polish",
  "patches": [
    {"name": "Launch Pro"},
    {"description": "Now with a webinar"}
  ]
}`)

	out := env.mustRun(t, "apply", id, "--file", batch, "--agent", "copy-bot")
	if !strings.Contains(out, "applied 2 patches in batch") || !strings.Contains(out, "saved") {
		t.Fatalf("unexpected apply output %q", out)
	}
	if list := env.mustRun(t, "list"); !strings.Contains(list, "Launch Pro") {
		t.Fatalf("expected renamed funnel in list\n%s", list)
	}

	history := env.mustRun(t, "history", id, "--events", "5")
	if !strings.Contains(history, "no history") {
		t.Fatalf("expected a fresh session to have no history\n%s", history)
	}
	if !strings.Contains(history, "by copy-bot (agent)") {
		t.Fatalf("expected the agent to be recorded on the change event\n%s", history)
	}
}

// TestRunApplyDryRunLeavesFunnel verifies --no-save discards the batch.
func TestRunApplyDryRunLeavesFunnel(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createFunnel(t, "Launch")
	batch := writeFile(t, filepath.Join(env.dir, "batch.json"), `{"label":"AI","patches":[{"name":"Renamed"}]}`)

	out := env.mustRun(t, "apply", id, "--file", batch, "--no-save")
	if strings.Contains(out, "saved") {
		t.Fatalf("expected no save, got %q", out)
	}
	if list := env.mustRun(t, "list"); strings.Contains(list, "Renamed") {
		t.Fatalf("expected funnel unchanged\n%s", list)
	}
}

// TestRunHistoryReplaysPatches verifies replay, undo and the printed timeline.
func TestRunHistoryReplaysPatches(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createFunnel(t, "Launch")
	patches := writeFile(t, filepath.Join(env.dir, "patches.json"), `[
  {"label": "Rename", "name": "Launch Two"},
  {"label": "Publish", "status": "published"},
  {"label": "Describe", "description": "Three steps"}
]`)

	out := env.mustRun(t, "history", id, "--patches", patches, "--undo", "1")
	for _, want := range []string{"● Rename  user", "● Publish  user", "○ Describe  user", "can_undo: true  can_redo: true  dirty: true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in history output\n%s", want, out)
		}
	}
	if strings.Index(out, "Rename") > strings.Index(out, "Publish") {
		t.Fatalf("expected oldest entry first\n%s", out)
	}

	out = env.mustRun(t, "history", id, "--patches", patches, "--undo", "10", "--save")
	if !strings.Contains(out, "dirty: false") {
		t.Fatalf("expected undoing everything to leave the funnel clean\n%s", out)
	}
}

// TestRunCommandErrors verifies argument and input validation.
func TestRunCommandErrors(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createFunnel(t, "Launch")
	emptyPatch := writeFile(t, filepath.Join(env.dir, "empty.json"), `[{}]`)
	unknownField := writeFile(t, filepath.Join(env.dir, "unknown.json"), `[{"title":"x"}]`)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"bogus"}, "unknown command"},
		{"apply needs file", []string{"apply", id}, "--file is required"},
		{"import needs in", []string{"import"}, "--in is required"},
		{"bad step kind", []string{"new", "X", "--step", "Page:video"}, `unknown kind "video"`},
		{"missing funnel", []string{"history", "missing"}, "open session"},
		{"empty patch", []string{"history", id, "--patches", emptyPatch}, "changes nothing"},
		{"unknown patch field", []string{"history", id, "--patches", unknownField}, "decode patch file"},
		{"bad delete mode", []string{"delete", id, "--mode", "shred"}, "invalid delete mode"},
		{"restore missing", []string{"restore", "missing"}, "restore funnel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := env.run(t, tc.args...)
			if err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

// TestRunServeUsesConfig verifies serve wires config defaults and flag overrides.
func TestRunServeUsesConfig(t *testing.T) {
	env := newCLIEnv(t)
	writeFile(t, env.config, `
[server]
http_bind = "127.0.0.1:9999"
api_endpoint = "/v2"
mcp_endpoint = "/agents"
`)

	var (
		gotCfg  server.Config
		gotDeps server.Dependencies
	)
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })
	serveCommandRunner = func(_ context.Context, cfg server.Config, deps server.Dependencies) error {
		gotCfg, gotDeps = cfg, deps
		return nil
	}

	env.mustRun(t, "serve", "--bind", "127.0.0.1:7000")
	if gotCfg.HTTPBind != "127.0.0.1:7000" || gotCfg.APIEndpoint != "/v2" || gotCfg.MCPEndpoint != "/agents" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotCfg.ServerName != "funnel" || gotCfg.ServerVersion != version {
		t.Fatalf("unexpected server identity %#v", gotCfg)
	}
	if gotDeps.Funnels == nil || gotDeps.Logger == nil {
		t.Fatalf("expected funnel service and logger, got %#v", gotDeps)
	}
}

// TestRunServePropagatesError verifies serve failures surface to the caller.
func TestRunServePropagatesError(t *testing.T) {
	env := newCLIEnv(t)
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })
	serveCommandRunner = func(context.Context, server.Config, server.Dependencies) error {
		return errors.New("address in use")
	}

	_, _, err := env.run(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("expected serve error, got %v", err)
	}
}

// TestRunRootStartsTUI verifies the root command builds the editor model.
func TestRunRootStartsTUI(t *testing.T) {
	env := newCLIEnv(t)
	var built tea.Model
	orig := programFactory
	t.Cleanup(func() { programFactory = orig })
	programFactory = func(m tea.Model) program {
		built = m
		return fakeProgram{model: m}
	}

	_, stderr, err := env.run(t, "--open", "abc")
	if err != nil {
		t.Fatalf("run(root) error = %v", err)
	}
	if _, ok := built.(tui.Model); !ok {
		t.Fatalf("expected tui.Model, got %T", built)
	}
	if strings.Contains(stderr, "starting tui program loop") {
		t.Fatalf("expected console logging muted during tui, got %q", stderr)
	}
}

// TestRunRootReportsProgramError verifies TUI failures are wrapped.
func TestRunRootReportsProgramError(t *testing.T) {
	env := newCLIEnv(t)
	orig := programFactory
	t.Cleanup(func() { programFactory = orig })
	programFactory = func(m tea.Model) program {
		return fakeProgram{model: m, runErr: errors.New("tty lost")}
	}

	_, _, err := env.run(t)
	if err == nil || !strings.Contains(err.Error(), "run tui program: tty lost") {
		t.Fatalf("expected wrapped program error, got %v", err)
	}
}

// TestRunInvalidConfig verifies config validation errors stop the command.
func TestRunInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	writeFile(t, env.config, "[history]\nmax_size = -1\n")

	_, _, err := env.run(t, "list")
	if err == nil || !strings.Contains(err.Error(), "history.max_size") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

// TestParseStepFlag verifies step flag parsing.
func TestParseStepFlag(t *testing.T) {
	cases := []struct {
		raw      string
		wantName string
		wantKind string
		wantErr  bool
	}{
		{raw: "Landing", wantName: "Landing"},
		{raw: "Thanks:ThankYou", wantName: "Thanks", wantKind: "thankyou"},
		{raw: "Webinar: webinar ", wantName: "Webinar", wantKind: "webinar"},
		{raw: "Page:video", wantErr: true},
		{raw: " ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseStepFlag(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseStepFlag(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseStepFlag(%q) error = %v", tc.raw, err)
		}
		if got.Name != tc.wantName || string(got.Kind) != tc.wantKind {
			t.Fatalf("parseStepFlag(%q) = %#v", tc.raw, got)
		}
	}
}

// TestRuntimeLoggerDevFileSink verifies dev mode writes logfmt to the file sink.
func TestRuntimeLoggerDevFileSink(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	now := func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	logger, err := newRuntimeLogger(&console, "funnel dev", true, config.LoggingConfig{
		Level:   "debug",
		DevFile: config.DevFileLogConfig{Enabled: true, Dir: dir},
	}, now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	want := filepath.Join(dir, "funnel-dev-20260304.log")
	if logger.DevLogPath() != want {
		t.Fatalf("DevLogPath() = %q, want %q", logger.DevLogPath(), want)
	}

	logger.SetConsoleEnabled(false)
	logger.Warn("batch replaced", "funnel_id", "f1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if console.Len() != 0 {
		t.Fatalf("expected muted console, got %q", console.String())
	}
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "funnel_id=f1") || !strings.Contains(string(content), `msg="batch replaced"`) {
		t.Fatalf("unexpected dev log content %q", content)
	}
}

// TestRuntimeLoggerRejectsLevel verifies invalid levels fail fast.
func TestRuntimeLoggerRejectsLevel(t *testing.T) {
	if _, err := newRuntimeLogger(nil, "funnel", false, config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatal("expected invalid level error")
	}
}

// TestSanitizeLogFileStem verifies app names become safe file stems.
func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"funnel":       "funnel",
		" a/b:c ":      "a-b-c",
		"":             "funnel",
		"//":           "funnel",
		"funnel dev 2": "funnel-dev-2",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestWorkspaceRootFrom verifies marker discovery walks up parents.
func TestWorkspaceRootFrom(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module x\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if got := workspaceRootFrom(nested); got != root {
		t.Fatalf("workspaceRootFrom() = %q, want %q", got, root)
	}
}
