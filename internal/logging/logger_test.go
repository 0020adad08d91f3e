package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"calmirror/internal/logging"
)

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
		JSON:   false,
	})

	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
		JSON:   true,
	})

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if entry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key='value', got: %v", entry["key"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelWarn,
		Output: &buf,
	})

	// These should be filtered out
	logger.Debug("debug message")
	logger.Info("info message")

	// This should appear
	logger.Warn("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should appear at warn level")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := logging.DefaultOptions()

	if opts.Level != logging.LevelInfo {
		t.Errorf("expected default level to be Info, got: %v", opts.Level)
	}
	if opts.JSON {
		t.Error("expected default JSON to be false")
	}
	if opts.AddSource {
		t.Error("expected default AddSource to be false")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
	})
	logging.SetDefault(logger)

	childLogger := logging.With("component", "test")
	childLogger.Info("child message")

	output := buf.String()
	if !strings.Contains(output, "component=test") {
		t.Errorf("expected output to contain 'component=test', got: %s", output)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
	})

	ctx := logging.NewContext(context.Background(), logger)
	retrieved := logging.FromContext(ctx)

	if retrieved == nil {
		t.Fatal("expected logger from context, got nil")
	}

	retrieved.Info("context message")
	if !strings.Contains(buf.String(), "context message") {
		t.Error("expected logger from context to write to buffer")
	}
}

func TestFromContext_Nil(t *testing.T) {
	ctx := context.Background()
	logger := logging.FromContext(ctx)

	if logger != nil {
		t.Error("expected nil logger from empty context")
	}
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{
			name:    "Calendar",
			attr:    logging.Calendar("work-cal"),
			wantKey: "calendar",
			wantVal: "work-cal",
		},
		{
			name:    "UID",
			attr:    logging.UID("event-123"),
			wantKey: "uid",
			wantVal: "event-123",
		},
		{
			name:    "Pair",
			attr:    logging.Pair("work", "personal"),
			wantKey: "pair",
			wantVal: "work->personal",
		},
		{
			name:    "Path",
			attr:    logging.Path("/home/user/.local/share"),
			wantKey: "path",
			wantVal: "/home/user/.local/share",
		},
		{
			name:    "Operation",
			attr:    logging.Operation("sync"),
			wantKey: "operation",
			wantVal: "sync",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("got key %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("got value %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr_NilError(t *testing.T) {
	attr := logging.Err(nil)
	if attr.Key != "" {
		t.Errorf("expected empty key for nil error, got: %q", attr.Key)
	}
}

func TestCount(t *testing.T) {
	attr := logging.Count(42)
	if attr.Key != "count" {
		t.Errorf("expected key 'count', got %q", attr.Key)
	}
	if attr.Value.Int64() != 42 {
		t.Errorf("expected value 42, got %d", attr.Value.Int64())
	}
}

func TestPackageLevelLogging(t *testing.T) {
	var buf bytes.Buffer
	testLogger := logging.New(logging.Options{
		Level:  logging.LevelDebug,
		Output: &buf,
	})
	logging.SetDefault(testLogger)

	logging.Debug("debug message", "key", "debug-val")
	logging.Info("info message", "key", "info-val")
	logging.Warn("warn message", "key", "warn-val")
	logging.Error("error message", "key", "error-val")

	output := buf.String()

	if !strings.Contains(output, "debug message") {
		t.Error("expected Debug() to write debug message")
	}
	if !strings.Contains(output, "info message") {
		t.Error("expected Info() to write info message")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("expected Warn() to write warn message")
	}
	if !strings.Contains(output, "error message") {
		t.Error("expected Error() to write error message")
	}
}
