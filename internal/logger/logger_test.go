package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Fatal("Expected error for invalid level")
		}
	})

	t.Run("FileSink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "review.log")
		log, err := New(Config{
			Level:  "debug",
			Format: "console",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}

		log.WithComponent("masking").WithSessionID("s-1").LogMasking(42, 2, []MaskingSummary{
			{Source: "money", Kind: "detector", Placeholder: "[AMOUNT_", Count: 2},
		})
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		out := string(data)
		for _, want := range []string{"Masking applied", `"session_id":"s-1"`, `"component":"masking"`, "[AMOUNT_"} {
			if !strings.Contains(out, want) {
				t.Errorf("Log output missing %q: %s", want, out)
			}
		}
	})
}
