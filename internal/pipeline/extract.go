package pipeline

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/lineitems"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// extract turns accepted text into the validated invoice: primary and
// heuristic extraction, each validated, then reconciled.
func (o *Orchestrator) extract(ctx context.Context, run *Run, text entity.ExtractionResult) entity.InvoiceExtraction {
	meta := lineitems.ExtractMetadata(text.Text, o.cfg.LineItems)

	primary := o.primary(ctx, run, text, meta)
	run.step(StateExtract, fmt.Sprintf("primary %s: %d/%d valid",
		primary.Source, primary.Validation.ValidItems, primary.Validation.TotalItems), text.Confidence)

	heuristic := o.validator.Assemble(meta, o.heuristic.Extract(text.Text), constants.SourceHeuristic)
	run.step(StateExtract, fmt.Sprintf("heuristic: %d/%d valid",
		heuristic.Validation.ValidItems, heuristic.Validation.TotalItems), text.Confidence)

	chosen, reason := lineitems.Reconcile(primary, heuristic)
	run.step(StateReconcile, chosen.Source+": "+reason, text.Confidence)
	run.logger.Info("pipeline.reconcile",
		"source", chosen.Source, "reason", reason,
		"items", chosen.Validation.TotalItems, "valid", chosen.Validation.ValidItems,
		"net", chosen.Totals.Net)

	if rejected := chosen.Validation.TotalItems - chosen.Validation.ValidItems; rejected > 0 {
		run.failures = append(run.failures, Failure{
			Stage:   StateExtract,
			Class:   common.ClassValidationRejected,
			Message: fmt.Sprintf("%d of %d line items failed validation", rejected, chosen.Validation.TotalItems),
		})
	}
	return chosen
}

// primary asks the LLM when one is wired and falls back to the pattern
// extractor on any provider or schema failure.
func (o *Orchestrator) primary(ctx context.Context, run *Run, text entity.ExtractionResult, meta lineitems.Metadata) entity.InvoiceExtraction {
	if o.llm != nil {
		req := llm.ExtractRequest{
			Text:            text.Text,
			FilenameHint:    run.Doc.Filename,
			DefaultCurrency: meta.Currency,
			IsArabic:        text.IsArabic,
			Confidence:      text.Confidence,
		}
		if run.Doc.Format() == constants.IMAGE {
			if p, err := ocr.SourcePath(run.Workspace, run.Doc); err == nil {
				req.ImagePath = p
			}
		}

		fields, _, err := o.llm.ExtractItems(ctx, req)
		switch {
		case err != nil:
			run.addFailure("llm", err)
			run.logger.Warn("pipeline.llm.fallback", "error", err)
		case len(fields.LineItems) == 0:
			run.logger.Info("pipeline.llm.empty")
		default:
			return o.validator.Assemble(mergeMetadata(meta, fields), fields.ToLineItems(), constants.SourceLLM)
		}
	}

	items, source := o.extractor.Extract(text.Text)
	return o.validator.Assemble(meta, items, source)
}

// mergeMetadata keeps what the document text states and fills gaps from the
// model. Currency stays as resolved from the text.
func mergeMetadata(meta lineitems.Metadata, f llm.InvoiceFields) lineitems.Metadata {
	if meta.InvoiceNumber == "" {
		meta.InvoiceNumber = f.InvoiceNumber
	}
	if meta.Date == "" {
		meta.Date = f.InvoiceDate
	}
	if meta.DeclaredTotal == nil {
		meta.DeclaredTotal = f.DeclaredTotal
	}
	if meta.VATRate == nil {
		meta.VATRate = f.VATRate
	}
	return meta
}
