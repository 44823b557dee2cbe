package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"\n" +
		"LUMIVOICE_ADDR=:9090\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='one two'\n" +
		"export EXPORTED=ok\n" +
		"not-a-pair\n" +
		"EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := map[string]string{
		"LUMIVOICE_ADDR": ":9090",
		"QUOTED":         "hello world",
		"SINGLE":         "one two",
		"EXPORTED":       "ok",
		"EXISTING":       "already_set",
	}
	for key, value := range want {
		if got := os.Getenv(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{"A=1", "A", "1", true},
		{"  A = 1 ", "A", "1", true},
		{"export B=2", "B", "2", true},
		{`C="two words"`, "C", "two words", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=nokey", "", "", false},
		{"bareword", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = %q, %q, %v", tc.line, key, val, ok)
		}
	}
}
