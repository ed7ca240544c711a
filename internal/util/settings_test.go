package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ONETAGGER_DATA_DIR", dir)
	return dir
}

func TestLoadSettingsFreshStart(t *testing.T) {
	useTempDataDir(t)
	s, err := LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Version == nil || *s.Version != 2 {
		t.Errorf("version = %v", s.Version)
	}
}

func TestLoadSettingsMigratesOldVersion(t *testing.T) {
	dir := useTempDataDir(t)
	old := []byte(`{"ui": {"theme": "dark"}, "version": 1}`)
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), old, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Version == nil || *s.Version != 2 {
		t.Errorf("migrated version = %v", s.Version)
	}

	// Old file must be backed up and removed
	backup, err := os.ReadFile(filepath.Join(dir, "settings.json-1.0.bak"))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != string(old) {
		t.Error("backup differs from original")
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json")); !os.IsNotExist(err) {
		t.Error("old settings.json still present")
	}
}

func TestSettingsSaveRoundTrip(t *testing.T) {
	dir := useTempDataDir(t)
	v := 2
	s := &Settings{UI: json.RawMessage(`{"theme":"dark"}`), Version: &v}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json")); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if string(loaded.UI) != `{"theme":"dark"}` {
		t.Errorf("ui = %s", loaded.UI)
	}
}
