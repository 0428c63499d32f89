// Package server exposes the extraction pipeline over gRPC.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/async"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
)

type Options struct {
	Queue      *async.Queue             // enables async requests
	Runs       repository.RunRepository // enables GetRun and run bookkeeping
	MaxBytes   int                      // upload cap, 0 = none
	AllowPaths bool                     // accept server-local "path" requests
}

// ExtractionService implements ExtractionServer.
//
// Extract request fields: filename, mime_type, content_base64 (or path when
// AllowPaths is set) and async. Sync calls return the full result; async
// calls return {run_id, status: RUNNING}.
type ExtractionService struct {
	ext    async.Extractor
	opts   Options
	logger *slog.Logger
}

func NewExtractionService(ext async.Extractor, opts Options, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{ext: ext, opts: opts, logger: logger}
}

func (s *ExtractionService) Extract(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	logger := common.LoggerWithContext(ctx, s.logger)
	doc, err := s.document(req)
	if err != nil {
		logger.Warn("extract.bad_request", "error", err)
		return nil, common.ToStatus(err)
	}
	queued := boolField(req, "async")
	if queued && (s.opts.Queue == nil || s.opts.Runs == nil) {
		return nil, status.Error(codes.FailedPrecondition, "async extraction needs a queue and a run store")
	}

	runID := uuid.New().String()
	if s.opts.Runs != nil {
		if _, err := s.opts.Runs.Start(ctx, runID, doc); err != nil {
			return nil, common.ToStatus(err)
		}
	}

	if queued {
		job := async.Job{ID: runID, Doc: doc, TraceID: common.RequestIDFromContext(ctx)}
		if _, err := s.opts.Queue.Enqueue(ctx, job); err != nil {
			_ = s.opts.Runs.Fail(context.WithoutCancel(ctx), runID, err.Error())
			if errors.Is(err, async.ErrQueueClosed) {
				return nil, status.Error(codes.Unavailable, err.Error())
			}
			return nil, common.ToStatus(err)
		}
		logger.Info("extract.queued", "run_id", runID, "document", doc.Filename)
		return structpb.NewStruct(map[string]any{"run_id": runID, "status": string(constants.RunStatusRunning)})
	}

	res, err := s.ext.Extract(common.WithRunID(ctx, runID), doc)
	if s.opts.Runs != nil {
		RecordOutcome(s.opts.Runs, logger)(context.WithoutCancel(ctx), async.Outcome{Job: async.Job{ID: runID}, Result: res, Err: err})
	}
	if err != nil {
		logger.Error("extract.failed", "run_id", runID, "error", err)
		return nil, common.ToStatus(err)
	}
	return toStruct(res)
}

// document builds the Document described by req from inline content or,
// when enabled, a server-local path.
func (s *ExtractionService) document(req *structpb.Struct) (entity.Document, error) {
	filename := strings.TrimSpace(stringField(req, "filename"))
	mimeType := strings.TrimSpace(stringField(req, "mime_type"))
	content := stringField(req, "content_base64")
	path := strings.TrimSpace(stringField(req, "path"))

	switch {
	case content != "":
		if filename == "" {
			return entity.Document{}, common.NewAppError("MISSING_FILENAME", "filename is required", common.ErrInvalidInput)
		}
		if s.opts.MaxBytes > 0 && base64.StdEncoding.DecodedLen(len(content)) > s.opts.MaxBytes+2 {
			return entity.Document{}, common.NewAppError("FILE_TOO_LARGE",
				fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxBytes), common.ErrFileTooLarge)
		}
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return entity.Document{}, common.NewAppError("BAD_CONTENT", "content_base64 is not valid base64", common.ErrInvalidInput)
		}
		if s.opts.MaxBytes > 0 && len(data) > s.opts.MaxBytes {
			return entity.Document{}, common.NewAppError("FILE_TOO_LARGE",
				fmt.Sprintf("upload is %d bytes, limit %d", len(data), s.opts.MaxBytes), common.ErrFileTooLarge)
		}
		if mimeType == "" {
			mimeType = constants.MIMEFor(filename)
		}
		return entity.Document{Content: data, Filename: filename, MIMEType: mimeType}, nil
	case path != "":
		if !s.opts.AllowPaths {
			return entity.Document{}, common.NewAppError("PATHS_DISABLED", "path requests are disabled", common.ErrInvalidInput)
		}
		return ingest.LoadDocument(path, s.opts.MaxBytes)
	}
	return entity.Document{}, common.NewAppError("MISSING_CONTENT", "content_base64 or path is required", common.ErrInvalidInput)
}

type runView struct {
	ID           string          `json:"run_id"`
	Filename     string          `json:"filename"`
	ContentHash  string          `json:"content_hash"`
	Format       string          `json:"format"`
	Status       string          `json:"status"`
	Method       string          `json:"method,omitempty"`
	Confidence   float64         `json:"confidence"`
	Currency     string          `json:"currency,omitempty"`
	ItemCount    int             `json:"item_count"`
	ValidItems   int             `json:"valid_items"`
	NetTotal     float64         `json:"net_total"`
	GrossTotal   float64         `json:"gross_total"`
	Guidance     string          `json:"guidance,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	StartedAt    string          `json:"started_at"`
	FinishedAt   string          `json:"finished_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func (s *ExtractionService) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run store is not configured")
	}
	id := strings.TrimSpace(stringField(req, "run_id"))
	if id == "" {
		return nil, common.InvalidArgumentError("run_id is required")
	}
	run, err := s.opts.Runs.Get(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}

	view := runView{
		ID:           run.ID,
		Filename:     run.Filename,
		ContentHash:  run.ContentHash,
		Format:       run.Format,
		Status:       string(run.Status),
		Method:       run.Method,
		Confidence:   run.Confidence,
		Currency:     run.Currency,
		ItemCount:    run.ItemCount,
		ValidItems:   run.ValidItems,
		NetTotal:     run.NetTotal,
		GrossTotal:   run.GrossTotal,
		Guidance:     run.Guidance,
		ErrorMessage: run.ErrorMessage,
		StartedAt:    run.StartedAt.Format(time.RFC3339Nano),
		Result:       run.Result,
	}
	if run.FinishedAt != nil {
		view.FinishedAt = run.FinishedAt.Format(time.RFC3339Nano)
	}
	return toStruct(view)
}

// RecordOutcome returns a queue handler that writes outcomes to runs.
func RecordOutcome(runs repository.RunRepository, logger *slog.Logger) async.Handler {
	return func(ctx context.Context, out async.Outcome) {
		var err error
		if out.Err != nil {
			err = runs.Fail(ctx, out.Job.ID, out.Err.Error())
		} else {
			if out.Result.RunID == "" {
				out.Result.RunID = out.Job.ID
			}
			err = runs.Finish(ctx, out.Result)
		}
		if err != nil {
			logger.Error("run.record_failed", "run_id", out.Job.ID, "error", err)
		}
	}
}

// UnaryLogging tags each call with a request id and logs its outcome.
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx = common.WithRequestID(ctx, uuid.New().String())
		resp, err := handler(ctx, req)
		l := common.LoggerWithContext(ctx, logger).With(
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if err != nil {
			l.Warn("grpc.call", "error", err)
		} else {
			l.Info("grpc.call")
		}
		return resp, err
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringField(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(s *structpb.Struct, key string) bool {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}
