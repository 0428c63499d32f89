package pipeline

import (
	"log/slog"

	"github.com/joseph-ayodele/invoice-extractor/internal/cloudocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/lineitems"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// ConfigFrom maps the application config onto the orchestrator's.
func ConfigFrom(cfg *common.Config) Config {
	return Config{
		AcceptConfidence:    cfg.Pipeline.AcceptConfidence,
		MinUsableConfidence: cfg.Pipeline.MinUsableConfidence,
		ArabicHeavyRatio:    cfg.Pipeline.ArabicHeavyRatio,
		Timeout:             cfg.Pipeline.Timeout,
		WorkDir:             cfg.OCR.WorkDir,
		OCR: ocr.Config{
			Pdftotext:        cfg.OCR.Pdftotext,
			Pdftoppm:         cfg.OCR.Pdftoppm,
			Tesseract:        cfg.OCR.Tesseract,
			Magick:           cfg.OCR.Magick,
			PrimaryLang:      cfg.OCR.PrimaryLang,
			SecondaryLang:    cfg.OCR.SecondaryLang,
			TessdataDir:      cfg.OCR.TessdataDir,
			DPIs:             cfg.OCR.DPIs,
			MaxPages:         cfg.OCR.MaxPages,
			MaxPageWorkers:   cfg.OCR.MaxPageWorkers,
			AcceptConfidence: cfg.Pipeline.AcceptConfidence,
		},
		LineItems: lineitems.Config{
			Tolerance:       cfg.Validation.Tolerance,
			DefaultVATRate:  cfg.Validation.DefaultVATRate,
			DefaultCurrency: cfg.Validation.DefaultCurrency,
			ArabicCurrency:  cfg.Validation.ArabicCurrency,
		},
	}
}

// NewFromConfig builds an orchestrator with the production collaborators:
// exec-backed text layer and rasterizer, the default local engine, cloud
// providers from credentials and the OpenAI extractor when a key is set.
func NewFromConfig(cfg *common.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	pc := ConfigFrom(cfg)
	runner := ocr.NewExecRunner(logger)

	cloud := cloudocr.NewAdapter(cloudocr.Config{
		OCRSpaceAPIKey:       cfg.Cloud.OCRSpaceAPIKey,
		OCRSpaceEndpoint:     cfg.Cloud.OCRSpaceEndpoint,
		GoogleVisionAPIKey:   cfg.Cloud.GoogleVisionAPIKey,
		GoogleVisionEndpoint: cfg.Cloud.GoogleVisionEndpoint,
		AzureVisionKey:       cfg.Cloud.AzureVisionKey,
		AzureVisionEndpoint:  cfg.Cloud.AzureVisionEndpoint,
		Timeout:              cfg.Cloud.Timeout,
		MaxCompressionPasses: cfg.Cloud.MaxCompressionPasses,
	}, nil, logger)

	deps := Deps{
		TextLayer:  ocr.NewTextLayerExtractor(pc.OCR, runner, logger),
		Rasterizer: ocr.NewRasterizer(pc.OCR, runner, logger),
		Local:      ocr.NewLocalEngineAdapter(ocr.NewDefaultEngine(pc.OCR, runner, logger), pc.OCR, logger),
		Cloud:      cloud,
	}
	if cfg.LLM.APIKey != "" {
		deps.LLM = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			LenientOptional: true,
		}, logger)
	}

	logger.Info("pipeline.wired",
		"engine", deps.Local.EngineName(),
		"cloud_available", cloud.Available(),
		"llm", deps.LLM != nil,
	)
	return New(pc, deps, logger)
}
