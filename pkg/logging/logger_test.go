package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/courier/pkg/types"
)

// setupTestDir points the package at a temporary log directory and resets
// global state.
func setupTestDir(t *testing.T) (cleanup func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "courier-logging-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	origLogDir := logDir
	origInitErr := initErr
	origSessionID := sessionID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}

	return func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}

		os.RemoveAll(tempDir)
	}
}

func TestNewLogger(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.component)
	}
	if logger.sessionID == "" {
		t.Error("Expected non-empty session ID")
	}
	if logger.logPath == "" {
		t.Error("Expected non-empty log path")
	}
	if _, err := os.Stat(logger.logPath); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.logPath)
	}
}

func TestLoggerFormatting(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	time.Sleep(50 * time.Millisecond)

	content, err := os.ReadFile(logger.logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logContent := string(content)

	expectedPatterns := []string{
		"[test] [INFO] Test message 123",
		"[test] [DEBUG] Debug message",
		"[test] [INFO] Info message",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	}
	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestMultipleComponents(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger1, err := NewLogger("component1")
	if err != nil {
		t.Fatalf("Failed to create logger1: %v", err)
	}
	defer logger1.Close()

	logger2, err := NewLogger("component2")
	if err != nil {
		t.Fatalf("Failed to create logger2: %v", err)
	}
	defer logger2.Close()

	// They should share the same session ID and log file
	if logger1.sessionID != logger2.sessionID {
		t.Errorf("Expected same session ID, got %q and %q", logger1.sessionID, logger2.sessionID)
	}
	if logger1.logPath != logger2.logPath {
		t.Errorf("Expected same log path, got %q and %q", logger1.logPath, logger2.logPath)
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")

	content, err := os.ReadFile(logger1.logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logContent := string(content)
	if !strings.Contains(logContent, "[component1]") {
		t.Error("Log missing component1 entries")
	}
	if !strings.Contains(logContent, "[component2]") {
		t.Error("Log missing component2 entries")
	}
}

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("background", &buf)
	logger.SetLevel(LevelWarn)

	logger.Debugf("hidden debug")
	logger.Infof("hidden info")
	logger.Warnf("shown warning")
	logger.Errorf("shown error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Entries below the level were written:\n%s", out)
	}
	if !strings.Contains(out, "[background] [WARN] shown warning") {
		t.Errorf("Missing warning entry:\n%s", out)
	}
	if !strings.Contains(out, "[background] [ERROR] shown error") {
		t.Errorf("Missing error entry:\n%s", out)
	}
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger("extension", &buf)
	parent.SetLevel(LevelInfo)

	child := parent.Named("popup")
	child.Debugf("dropped")
	child.Infof("Popup posting port message")

	if err := child.Close(); err != nil {
		t.Errorf("Closing a named logger failed: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("Named logger did not inherit level:\n%s", out)
	}
	if !strings.Contains(out, "[popup] [INFO] Popup posting port message") {
		t.Errorf("Missing child entry:\n%s", out)
	}
}

func TestNamedFollowsParentLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger("extension", &buf)
	child := parent.Named("background")

	parent.SetLevel(LevelError)
	child.Warnf("dropped warning")
	child.Errorf("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped warning") {
		t.Errorf("Child kept the level it was created with:\n%s", out)
	}
	if !strings.Contains(out, "[background] [ERROR] kept error") {
		t.Errorf("Missing child error entry:\n%s", out)
	}
}

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "quiet", want: LevelWarn},
		{in: "normal", want: LevelInfo},
		{in: "", want: LevelInfo},
		{in: "Verbose", want: LevelDebug},
		{in: "debug", want: LevelDebug},
		{in: "loud", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVerbosity(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVerbosity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVerbosity(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("transport", &buf)
	emit := logger.Emitter()

	emit(types.NewPortConnectedEvent(types.BackgroundID(), types.PopupID(""), "p-1", "popup"))
	emit(types.NewScriptFailedEvent(7, "scrape_outer_html", errors.New("boom")))
	emit(nil)

	out := buf.String()
	if !strings.Contains(out, "[DEBUG] port_connected context=background peer=popup port=popup/p-1") {
		t.Errorf("Missing port event entry:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] script_failed") || !strings.Contains(out, "error=boom") {
		t.Errorf("Missing failure entry:\n%s", out)
	}
}

func TestGetSessionID(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	id1 := GetSessionID()
	id2 := GetSessionID()
	if id1 != id2 {
		t.Errorf("Expected consistent session ID, got %q and %q", id1, id2)
	}
	if id1 == "" {
		t.Error("Expected non-empty session ID")
	}
}

func TestGetLogDirectory(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("Failed to get log directory: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Log directory does not exist or is not a directory: %s", dir)
	}
}

func TestLoggerClose(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	// Close again should be safe
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	// Verify log file name format: <session-id>-courier.log
	fileName := filepath.Base(logger.logPath)
	if !strings.HasSuffix(fileName, "-courier.log") {
		t.Errorf("Expected log file to end with '-courier.log', got %q", fileName)
	}
	sessionPart := strings.TrimSuffix(fileName, "-courier.log")
	if !strings.Contains(sessionPart, "-") {
		t.Errorf("Expected session ID part to contain dashes (UUID format), got %q", sessionPart)
	}
}
