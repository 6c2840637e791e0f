package logger_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.WithComponent("tsg").Info("group opened")

	output := buf.String()
	if !strings.Contains(output, "[tsg]") {
		t.Errorf("expected component prefix in output, got %q", output)
	}
	if !strings.Contains(output, "group opened") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Info("bind",
		logger.WithField("tsgid", 3),
		logger.WithField("chid", 7),
	)

	output := buf.String()
	if !strings.Contains(output, "{chid=7, tsgid=3}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "error", &buf)

	log.Debug("should not appear")
	log.Info("should not appear")
	log.Warn("should not appear")
	log.Error("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Error("lower level logs should not appear with error level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("error level log should appear")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "error", &buf)
	child := log.WithComponent("bind")

	if !logger.SetLevel(log, "debug") {
		t.Fatal("expected SetLevel to succeed")
	}
	child.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change should apply to loggers sharing the backend")
	}

	if logger.SetLevel(log, "shouting") {
		t.Error("invalid level should be rejected")
	}
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	ctx := tcontext.WithRequestID(context.Background(), "req_fixed")
	ctx = tcontext.WithOperation(ctx, "bind_channel_ex")

	logger.WithContext(ctx, log).Info("traced")

	output := buf.String()
	if !strings.Contains(output, "request_id=req_fixed") {
		t.Errorf("expected request id in output, got %q", output)
	}
	if !strings.Contains(output, "op=bind_channel_ex") {
		t.Errorf("expected operation in output, got %q", output)
	}
}

func TestNopLogger(t *testing.T) {
	log := logger.NewNopLogger()
	log.Error("dropped")
	log.WithComponent("x").Warn("dropped")
}
