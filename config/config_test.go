package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestEmbeddedDefaultParses(t *testing.T) {
	var conf Config
	if err := toml.Unmarshal(defaultConfigData, &conf); err != nil {
		t.Fatalf("embedded default config does not parse: %v", err)
	}
	if conf.Default == "" {
		t.Fatal("embedded default config has no `default` key")
	}
	found := false
	for _, drv := range conf.Drive {
		if drv.Name == conf.Default {
			found = true
		}
	}
	if !found {
		t.Fatalf("embedded default drive %q not present in drive array", conf.Default)
	}
	if len(conf.HandlerOrder) == 0 {
		t.Fatal("embedded default config has no handler_order")
	}
}

func TestOrderedHandlerNames(t *testing.T) {
	HandlerOrder = []string{"speedlock", "amigados"}
	got := OrderedHandlerNames([]string{"amigados", "bombuzal", "speedlock", "unformatted"})
	want := []string{"speedlock", "amigados", "bombuzal", "unformatted"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInitializeCreatesAndLoadsDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if DriveName == "" {
		t.Fatal("DriveName not populated")
	}
	if DriveRPM <= 0 {
		t.Fatalf("DriveRPM = %d, want positive", DriveRPM)
	}
	if len(HandlerOrder) == 0 {
		t.Fatal("HandlerOrder not populated")
	}

	path := filepath.Join(home, ".mfmdisk")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
}
