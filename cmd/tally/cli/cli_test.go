package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tallycrm/tally/internal/config"
	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

// useTempData points the data dir and SQLite database at a fresh directory.
func useTempData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TALLY_DATA_DIR", dir)
	t.Setenv("TALLY_DATABASE_DSN", filepath.Join(dir, "crm.db"))
	initConfig()
	return dir
}

func openTestStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{DSN: filepath.Join(dir, "crm.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd("1.2.3", "abc", "today")
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "status", "stop", "version", "key", "user", "db", "openapi", "mcp", "config"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %q command; have %v", want, names)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	cmd := newVersionCmd("1.2.3", "abc", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if info["version"] != "1.2.3" || info["commit"] != "abc" {
		t.Errorf("info = %v", info)
	}
}

func TestChildArgs(t *testing.T) {
	got := childArgs([]string{"serve", "-d", "--port", "9000", "--detach", "--dev"})
	want := []string{"serve", "--port", "9000", "--dev"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("childArgs = %v, want %v", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf, false).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json logger wrote %q", buf.String())
	}

	buf.Reset()
	logger := newLogger(config.LoggingConfig{Level: "error", Format: "text"}, &buf, true)
	logger.Debug("visible in dev")
	if !strings.Contains(buf.String(), "visible in dev") {
		t.Errorf("dev mode should log debug, got %q", buf.String())
	}
}

func TestVersionString(t *testing.T) {
	defer func(v string) { appVersion = v }(appVersion)
	for in, want := range map[string]string{"": "dev", "dev": "dev", "1.0.0": "v1.0.0", "v2.1.0": "v2.1.0"} {
		appVersion = in
		if got := versionString(); got != want {
			t.Errorf("versionString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	if err := runConfigInit(path, false); err != nil {
		t.Fatal(err)
	}
	if err := runConfigInit(path, false); err == nil {
		t.Error("second init without --force should fail")
	}
	if err := runConfigInit(path, true); err != nil {
		t.Errorf("init --force: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
}

func TestUserAndKeyCommands(t *testing.T) {
	dir := useTempData(t)

	if err := runUserCreate("boss@example.com", "password1", "Boss", "manager"); err != nil {
		t.Fatalf("user create: %v", err)
	}
	if err := runUserCreate("boss@example.com", "password1", "Boss", "manager"); err == nil {
		t.Error("duplicate user create should fail")
	}
	if err := runUserCreate("rep@example.com", "short", "", "sales_rep"); err == nil {
		t.Error("short password should fail")
	}
	if err := runUserCreate("rep@example.com", "password1", "", "intern"); err == nil {
		t.Error("unknown role should fail")
	}

	if err := runKeyCreate("boss@example.com", "cli", 0); err != nil {
		t.Fatalf("key create: %v", err)
	}
	if err := runKeyCreate("nobody@example.com", "", 0); err == nil {
		t.Error("key for unknown user should fail")
	}

	st := openTestStore(t, dir)
	ctx := context.Background()
	user, err := st.GetUserByEmail(ctx, "boss@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if user.Role != model.RoleManager || !user.IsActive {
		t.Errorf("user = %+v", user)
	}
	keys, err := st.ListAPIKeys(ctx, user.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("keys = %v, %v", keys, err)
	}

	if err := runKeyRevoke(keys[0].KeyPrefix); err != nil {
		t.Fatalf("key revoke: %v", err)
	}
	if err := runKeyRevoke(keys[0].KeyPrefix); err == nil {
		t.Error("revoking an inactive key should fail")
	}
	if err := runKeyRevoke("short"); err == nil {
		t.Error("malformed prefix should fail")
	}

	if err := runUserSetActive("boss@example.com", false); err != nil {
		t.Fatalf("user disable: %v", err)
	}
	if err := runKeyCreate("boss@example.com", "", 0); err == nil {
		t.Error("key for disabled user should fail")
	}
}

func TestPIDFile(t *testing.T) {
	useTempData(t)
	if _, err := readPID(); err == nil {
		t.Fatal("expected no PID file")
	}
	if err := writePID(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	pid, err := readPID()
	if err != nil || pid != os.Getpid() {
		t.Errorf("readPID = %d, %v", pid, err)
	}
	if !isProcessRunning(pid) {
		t.Error("own process should be running")
	}
	removePID()
	if _, err := os.Stat(pidFilePath()); !os.IsNotExist(err) {
		t.Errorf("PID file still present: %v", err)
	}
}
