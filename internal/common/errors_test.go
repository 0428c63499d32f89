package common

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewAppError("X", "pdf", ErrDocumentUnreadable), ClassDocumentUnreadable},
		{fmt.Errorf("tesseract: %w", ErrEngineUnavailable), ClassEngineUnavailable},
		{errors.Join(errors.New("429"), ErrProviderUnavailable), ClassProviderUnavailable},
		{NewAppError("BIG", "upload", ErrFileTooLarge), ClassFileTooLarge},
		{errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{NewAppError("BAD", "x", ErrInvalidInput), codes.InvalidArgument},
		{NewAppError("BIG", "x", ErrFileTooLarge), codes.ResourceExhausted},
		{NewAppError("NF", "x", ErrNotFound), codes.NotFound},
		{fmt.Errorf("stat: %w", fs.ErrNotExist), codes.NotFound},
		{ErrEngineUnavailable, codes.Unavailable},
		{status.Error(codes.Aborted, "kept"), codes.Aborted},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(ToStatus(tt.err)); got != tt.want {
			t.Errorf("ToStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if ToStatus(nil) != nil {
		t.Error("ToStatus(nil) != nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
