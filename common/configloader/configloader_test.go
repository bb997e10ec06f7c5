package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
	Brokers  []string      `mapstructure:"brokers"`
	Debug    bool          `mapstructure:"debug"`
	Nested   struct {
		Count int `mapstructure:"count"`
	} `mapstructure:"nested"`
}

type validated struct {
	Name string `mapstructure:"name"`
}

func (v *validated) Validate() error {
	if v.Name == "" {
		return errors.New("name required")
	}
	return nil
}

func sampleDefaults() map[string]interface{} {
	return map[string]interface{}{
		"name":         "svc",
		"interval":     "500ms",
		"brokers":      []string{"localhost:9092"},
		"debug":        false,
		"nested.count": 10,
	}
}

func TestLoad_Defaults(t *testing.T) {
	var cfg sample
	if err := Load("", "CFGTEST_A", sampleDefaults(), &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "svc" || cfg.Interval != 500*time.Millisecond || cfg.Nested.Count != 10 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "localhost:9092" {
		t.Errorf("brokers = %v", cfg.Brokers)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CFGTEST_B_INTERVAL", "2s")
	t.Setenv("CFGTEST_B_BROKERS", "b1:9092,b2:9092")
	t.Setenv("CFGTEST_B_DEBUG", "true")
	t.Setenv("CFGTEST_B_NESTED_COUNT", "42")

	var cfg sample
	if err := Load("", "CFGTEST_B", sampleDefaults(), &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interval != 2*time.Second {
		t.Errorf("interval = %v", cfg.Interval)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b2:9092" {
		t.Errorf("brokers = %v", cfg.Brokers)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.Nested.Count != 42 {
		t.Errorf("nested.count = %d", cfg.Nested.Count)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "name: from-file\ninterval: 3s\nnested:\n  count: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	var cfg sample
	if err := Load(path, "CFGTEST_C", sampleDefaults(), &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "from-file" || cfg.Interval != 3*time.Second || cfg.Nested.Count != 7 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "CFGTEST_D", sampleDefaults(), &cfg)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Validate(t *testing.T) {
	var cfg validated
	err := Load("", "CFGTEST_E", map[string]interface{}{"name": ""}, &cfg)
	if err == nil || !strings.Contains(err.Error(), "name required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDump(t *testing.T) {
	out := Dump(struct{ A int }{A: 1})
	if !strings.Contains(out, `"A": 1`) {
		t.Errorf("unexpected dump: %s", out)
	}
}
