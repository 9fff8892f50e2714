package reqctx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestWithRequestContext(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "https://example.com/a")

	rc, ok := From(ctx)
	if !ok {
		t.Fatal("Expected a request context")
	}
	if _, err := uuid.Parse(rc.RequestID); err != nil {
		t.Errorf("Expected uuid request id, got %q: %v", rc.RequestID, err)
	}
	if rc.URL != "https://example.com/a" {
		t.Errorf("Unexpected url %q", rc.URL)
	}

	again := WithRequestContext(ctx, "https://example.com/b")
	if ID(again) != rc.RequestID {
		t.Error("Nested request context should keep the outer id")
	}
}

func TestFrom_Missing(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Error("Background context should carry no request")
	}
	if got := ID(context.Background()); got != "unknown" {
		t.Errorf("Expected unknown id, got %q", got)
	}

	err := NewRequestError(context.Background(), errors.New("boom"))
	if !strings.HasPrefix(err.Error(), "[unknown]") {
		t.Errorf("Expected unknown id in message, got %q", err.Error())
	}
}

func TestNewRequestError(t *testing.T) {
	base := errors.New("boom")
	ctx := WithRequestContext(context.Background(), "https://example.com")

	err := NewRequestError(ctx, base)
	if !errors.Is(err, base) {
		t.Error("RequestError should unwrap to the original error")
	}

	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatal("Expected *RequestError")
	}
	if re.RequestID != ID(ctx) {
		t.Errorf("Expected id %s, got %s", ID(ctx), re.RequestID)
	}
	if !strings.Contains(err.Error(), "https://example.com") {
		t.Errorf("Expected url in message, got %q", err.Error())
	}

	if NewRequestError(ctx, nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestLogger_TagsRequest(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = orig }()

	ctx := WithRequestContext(context.Background(), "https://example.com")
	Logger(ctx, "fetch").Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"`+ID(ctx)+`"`) {
		t.Errorf("Expected request id in log line, got %s", out)
	}
	if !strings.Contains(out, `"component":"fetch"`) {
		t.Errorf("Expected component in log line, got %s", out)
	}
}
