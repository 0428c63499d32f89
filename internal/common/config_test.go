package common

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OCR_DPIS", "")
	t.Setenv("LINE_ITEM_TOLERANCE", "")

	cfg := LoadConfig()
	if got, want := cfg.Validation.Tolerance, 0.05; got != want {
		t.Errorf("Tolerance = %v, want %v", got, want)
	}
	if got := cfg.OCR.DPIs; len(got) != 3 || got[0] != 300 || got[1] != 200 || got[2] != 400 {
		t.Errorf("DPIs = %v, want [300 200 400]", got)
	}
	if cfg.Pipeline.Timeout != 3*time.Minute {
		t.Errorf("Pipeline.Timeout = %v", cfg.Pipeline.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OCR_DPIS", "150, 300")
	t.Setenv("LINE_ITEM_TOLERANCE", "0.08")
	t.Setenv("CLOUD_OCR_TIMEOUT", "5s")
	t.Setenv("ALLOW_PATH_REQUESTS", "true")
	t.Setenv("LOG_FORMAT", "json")

	cfg := LoadConfig()
	if got := cfg.OCR.DPIs; len(got) != 2 || got[0] != 150 || got[1] != 300 {
		t.Errorf("DPIs = %v, want [150 300]", got)
	}
	if cfg.Validation.Tolerance != 0.08 {
		t.Errorf("Tolerance = %v, want 0.08", cfg.Validation.Tolerance)
	}
	if cfg.Cloud.Timeout != 5*time.Second {
		t.Errorf("Cloud.Timeout = %v, want 5s", cfg.Cloud.Timeout)
	}
	if !cfg.Server.AllowPaths || cfg.Log.Format != "json" {
		t.Errorf("AllowPaths = %v, Log.Format = %q", cfg.Server.AllowPaths, cfg.Log.Format)
	}
}

func TestConfigValidateRejectsBadRanges(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := LoadConfig()
	cfg.Validation.Tolerance = 0.5
	cfg.Validation.DefaultCurrency = "usd"
	cfg.Cloud.AzureVisionKey = "k"
	cfg.Cloud.AzureVisionEndpoint = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Validate() error %v does not wrap ErrValidation", err)
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFIG_ERROR" {
		t.Errorf("Validate() error = %#v, want AppError CONFIG_ERROR", err)
	}
}

func TestClassifyWrapped(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{WrapError(ErrConversionFailure, "rasterize"), ClassConversionFailure},
		{NewAppError("OCR", "tesseract missing", ErrEngineUnavailable), ClassEngineUnavailable},
		{errors.New("boom"), ClassInternal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
