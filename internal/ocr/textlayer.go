package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

type FailureKind string

const (
	FailurePasswordProtected FailureKind = "password_protected"
	FailureCorrupted         FailureKind = "corrupted"
	FailureUnreadable        FailureKind = "unreadable"
)

// DocumentFailure is the typed outcome for a container the parsers could not
// open. It unwraps to common.ErrDocumentUnreadable.
type DocumentFailure struct {
	Kind    FailureKind
	Message string
}

func (f *DocumentFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *DocumentFailure) Unwrap() error { return common.ErrDocumentUnreadable }

var (
	rePasswordMsg = regexp.MustCompile(`(?i)password|encrypt`)
	reCorruptMsg  = regexp.MustCompile(`(?i)malformed|corrupt|damaged|xref|trailer|not a pdf|unexpected eof|syntax error|invalid header|missing %pdf`)
)

// classifyFailure maps a parser error message onto a FailureKind.
func classifyFailure(msg string) *DocumentFailure {
	msg = strings.TrimSpace(msg)
	switch {
	case rePasswordMsg.MatchString(msg):
		return &DocumentFailure{Kind: FailurePasswordProtected, Message: msg}
	case reCorruptMsg.MatchString(msg):
		return &DocumentFailure{Kind: FailureCorrupted, Message: msg}
	}
	return &DocumentFailure{Kind: FailureUnreadable, Message: msg}
}

type TextLayerResult struct {
	Class        TextClass
	Text         string
	Pages        int
	Backend      string
	GarbledRatio float64
	Failure      *DocumentFailure
}

// TextLayerExtractor reads embedded text without rasterizing.
type TextLayerExtractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTextLayerExtractor(cfg Config, runner Runner, logger *slog.Logger) *TextLayerExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &TextLayerExtractor{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// Extract never returns an error: parser failures come back as Failure.
func (x *TextLayerExtractor) Extract(ctx context.Context, doc entity.Document, ws *Workspace) TextLayerResult {
	switch doc.Format() {
	case constants.TXT:
		text := strings.ToValidUTF8(string(doc.Content), "�")
		return x.classified(TextLayerResult{Text: text, Pages: 1, Backend: "plain"})
	case constants.PDF:
		return x.extractPDF(ctx, doc, ws)
	default:
		return TextLayerResult{Class: TextEmpty, Pages: 1}
	}
}

type pdfTextBackend struct {
	name string
	run  func(ctx context.Context, doc entity.Document, ws *Workspace) (string, int, error)
}

func (x *TextLayerExtractor) backends() []pdfTextBackend {
	return []pdfTextBackend{
		{name: "pdf-parser", run: func(_ context.Context, doc entity.Document, _ *Workspace) (string, int, error) {
			return x.readPDFText(doc.Content)
		}},
		{name: "pdftotext", run: x.pdftotext},
	}
}

// extractPDF tries each backend in order. The first usable text wins;
// otherwise the least garbled non-empty text is kept.
func (x *TextLayerExtractor) extractPDF(ctx context.Context, doc entity.Document, ws *Workspace) TextLayerResult {
	var best *TextLayerResult
	var failures []string

	for _, b := range x.backends() {
		text, pages, err := b.run(ctx, doc, ws)
		if err != nil {
			if isNotFound(err) {
				x.logger.Debug("ocr.textlayer.backend.missing", "backend", b.name)
				continue
			}
			x.logger.Info("ocr.textlayer.backend.failed", "backend", b.name, "error", err)
			failures = append(failures, err.Error())
			if classifyFailure(err.Error()).Kind == FailurePasswordProtected {
				break
			}
			continue
		}
		res := x.classified(TextLayerResult{Text: text, Pages: pages, Backend: b.name})
		x.logger.Debug("ocr.textlayer.backend.ok",
			"backend", b.name, "class", res.Class, "pages", pages, "garbled_ratio", res.GarbledRatio)
		if res.Class == TextUsable {
			return res
		}
		if best == nil || lessGarbled(res, *best) {
			best = &res
		}
	}

	if best != nil {
		return *best
	}
	out := TextLayerResult{Class: TextEmpty, Pages: 1}
	if len(failures) > 0 {
		out.Failure = classifyFailure(strings.Join(failures, "; "))
		x.logger.Warn("ocr.textlayer.unreadable", "kind", out.Failure.Kind, "message", out.Failure.Message)
	}
	return out
}

// lessGarbled prefers any text over none, then the lower garbled ratio.
func lessGarbled(a, b TextLayerResult) bool {
	if (a.Class == TextEmpty) != (b.Class == TextEmpty) {
		return b.Class == TextEmpty
	}
	return a.GarbledRatio < b.GarbledRatio
}

func (x *TextLayerExtractor) classified(res TextLayerResult) TextLayerResult {
	res.Class, res.GarbledRatio = ClassifyText(res.Text)
	return res
}

func (x *TextLayerExtractor) pdftotext(ctx context.Context, doc entity.Document, ws *Workspace) (string, int, error) {
	if ws == nil {
		return "", 0, fmt.Errorf("pdftotext: no workspace")
	}
	path, err := ws.Materialize(sourceName(doc), doc.Content)
	if err != nil {
		return "", 0, err
	}
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := x.runner.Run(ctx, x.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if isNotFound(err) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	text := strings.TrimRight(string(out), "\f")
	// A form-feed \f is used as page separator by default
	pages := 1 + strings.Count(text, "\f")
	return text, pages, nil
}

// readPDFText uses the in-process parser. It panics on some malformed
// inputs, which we surface as a corrupted-document error. A page that
// fails on its own is skipped so the rest of the document still counts.
func (x *TextLayerExtractor) readPDFText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages = r.NumPage()
	text, err = x.joinPages(pages, func(i int) (string, error) {
		p := r.Page(i)
		if p.V.IsNull() {
			return "", nil
		}
		return p.GetPlainText(nil)
	})
	return text, pages, err
}

// joinPages collects pages 1..n separated by form feeds. Failed pages are
// logged and left out; the error is returned only when every page failed.
func (x *TextLayerExtractor) joinPages(n int, page func(i int) (string, error)) (string, error) {
	var (
		b        strings.Builder
		firstErr error
		failed   int
	)
	for i := 1; i <= n; i++ {
		s, err := pageText(i, page)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			x.logger.Warn("ocr.textlayer.page_skipped", "page", i, "error", err)
			continue
		}
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\f")
		}
		b.WriteString(s)
	}
	if failed > 0 && failed == n {
		return "", firstErr
	}
	return b.String(), nil
}

func pageText(i int, page func(i int) (string, error)) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: page %d: parser panic: %v", i, r)
		}
	}()
	return page(i)
}

// sourceName is the workspace file name for the document copy.
func sourceName(doc entity.Document) string {
	ext := constants.NormalizeExt(filepath.Ext(doc.Filename))
	if doc.Format() == constants.PDF || ext == "" {
		ext = strings.ToLower(doc.Format())
	}
	return "source." + ext
}

// SourcePath materializes doc in ws and returns the path of the copy.
func SourcePath(ws *Workspace, doc entity.Document) (string, error) {
	return ws.Materialize(sourceName(doc), doc.Content)
}
