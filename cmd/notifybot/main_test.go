package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestRootCmd_Subcommands guards the command tree exposed by the binary.
func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"serve"}, {"provision"}, {"token", "issue"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("Find(%v) = %v, %v", path, cmd, err)
		}
	}
	if root.RunE == nil {
		t.Fatal("root should default to serve")
	}
	if f := root.PersistentFlags().Lookup("env-file"); f == nil || f.DefValue != ".env" {
		t.Fatalf("env-file flag = %+v", f)
	}
}

func TestTokenIssue_RequiresLogin(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"token", "issue"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--login") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	body := "MS_APP_ID=app-from-file\nMS_APP_PASSWORD=secret\nTENANT_ID=tenant-from-file\nBOT_NAME=Notifier\n"
	if err := os.WriteFile(env, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	// Set values win over the file; cleanup restores the prior state.
	t.Setenv("BOT_NAME", "FromEnv")
	t.Setenv("MS_APP_ID", "")
	t.Setenv("MS_APP_PASSWORD", "")
	t.Setenv("TENANT_ID", "")
	os.Unsetenv("MS_APP_ID")
	os.Unsetenv("MS_APP_PASSWORD")
	os.Unsetenv("TENANT_ID")

	cfg, err := loadConfig(env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Bot.AppID != "app-from-file" || cfg.Bot.TenantID != "tenant-from-file" {
		t.Fatalf("bot = %+v", cfg.Bot)
	}
	if cfg.Bot.Name != "FromEnv" {
		t.Fatalf("Name = %q", cfg.Bot.Name)
	}
}

func TestLoadConfig_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("MS_APP_ID", "app")
	t.Setenv("MS_APP_PASSWORD", "pw")
	t.Setenv("TENANT_ID", "tenant-1")
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
}

func TestLoadConfig_TenantRequired(t *testing.T) {
	t.Setenv("MS_APP_ID", "app")
	t.Setenv("MS_APP_PASSWORD", "pw")
	t.Setenv("TENANT_ID", "")
	os.Unsetenv("TENANT_ID")
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
	if err == nil || !strings.Contains(err.Error(), "TENANT_ID") {
		t.Fatalf("err = %v", err)
	}
}
