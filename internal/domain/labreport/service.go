package labreport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labinsight/labinsight/internal/platform/blobstore"
	"github.com/labinsight/labinsight/internal/platform/inference"
)

// Service runs the analysis pipeline and stores its results.
type Service struct {
	acquirer   *Acquirer
	extractor  *Extractor
	classifier *Classifier
	enricher   *Enricher
	aggregator *Aggregator
	repo       ReportRepository
	blobs      blobstore.BlobStore
	logger     zerolog.Logger
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Decoder    PageDecoder
	Rasterizer PageRasterizer
	Recognizer Recognizer
	LLM        inference.Completer
	Repo       ReportRepository
	Blobs      blobstore.BlobStore
}

// Options tune the pipeline stages.
type Options struct {
	OCRDPI            int
	OCRConcurrency    int
	EnrichConcurrency int
	EnrichRetries     int
	RemoteClassify    bool
}

func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if deps.Repo == nil {
		deps.Repo = NewMemoryRepo()
	}
	if deps.Blobs == nil {
		deps.Blobs = blobstore.NewInMemoryBlobStore()
	}
	return &Service{
		acquirer: NewAcquirer(deps.Decoder, deps.Rasterizer, deps.Recognizer,
			AcquirerConfig{DPI: opts.OCRDPI, OCRConcurrency: opts.OCRConcurrency}, logger),
		extractor:  NewExtractor(deps.LLM, logger),
		classifier: NewClassifier(deps.LLM, opts.RemoteClassify, logger),
		enricher: NewEnricher(deps.LLM,
			EnricherConfig{Concurrency: opts.EnrichConcurrency, Retries: opts.EnrichRetries}, logger),
		aggregator: NewAggregator(deps.LLM, logger),
		repo:       deps.Repo,
		blobs:      deps.Blobs,
		logger:     logger,
	}
}

// Analyze runs acquire, normalize, extract, classify, enrich and aggregate in
// order. Acquisition and extraction failures are returned as *AnalysisError
// and stop the run; later stages degrade instead of failing.
func (s *Service) Analyze(ctx context.Context, doc []byte, contentType string) (*AnalysisResult, error) {
	log := s.logger.With().Str("content_type", contentType).Int("size", len(doc)).Logger()
	start := time.Now()

	acq, err := s.acquirer.Acquire(ctx, doc, contentType)
	if err != nil {
		return nil, err
	}

	text := Normalize(acq.Text)

	patient, obs, err := s.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{PatientInfo: patient, TextSource: acq.Source}

	classified, degraded := s.classifier.Classify(ctx, obs)
	if degraded {
		result.Degraded = append(result.Degraded, DegradedClassification)
	}

	enriched, degraded := s.enricher.Enrich(ctx, classified)
	if degraded {
		result.Degraded = append(result.Degraded, DegradedEnrichment)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg, degraded := s.aggregator.Aggregate(ctx, enriched)
	if degraded {
		result.Degraded = append(result.Degraded, DegradedSummary)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Observations = enriched
	result.HealthScore = agg.HealthScore
	result.OverallStatus = agg.OverallStatus
	result.Summary = agg.Summary
	result.SuggestedHealthScore = agg.SuggestedHealthScore
	result.AttentionAreas = agg.AttentionAreas

	log.Info().
		Str("source", string(acq.Source)).
		Int("observations", len(enriched)).
		Int("health_score", result.HealthScore).
		Str("overall_status", string(result.OverallStatus)).
		Dur("latency", time.Since(start)).
		Msg("report analyzed")
	return result, nil
}

// Upload is a document submitted for analysis.
type Upload struct {
	// UserID optionally ties the report to an account held elsewhere.
	UserID      string
	FileName    string
	ContentType string
	Content     []byte
}

// Process stores the original document, analyzes it and hands a copy of the
// result to the repository. A repository failure is logged and reported as
// Persisted=false; it never changes the returned result.
func (s *Service) Process(ctx context.Context, up Upload) (*Report, error) {
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    up.FileName,
		ContentType: up.ContentType,
	}, bytes.NewReader(up.Content))
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	result, err := s.Analyze(ctx, up.Content, up.ContentType)
	if err != nil {
		// No report will reference the document.
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), meta.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("document_id", meta.ID).Msg("failed to discard document")
		}
		return nil, err
	}

	report := &Report{
		ID:          uuid.New(),
		UserID:      up.UserID,
		DocumentID:  meta.ID,
		FileName:    up.FileName,
		ContentType: up.ContentType,
		Status:      ReportCompleted,
		Result:      *result,
		CreatedAt:   time.Now().UTC(),
	}
	report.Persisted = s.persist(ctx, report)
	return report, nil
}

func (s *Service) persist(ctx context.Context, report *Report) bool {
	stored := *report
	stored.Result = *report.Result.Clone()
	if err := s.repo.Create(context.WithoutCancel(ctx), &stored); err != nil {
		s.logger.Error().Err(err).Str("report_id", report.ID.String()).Msg("failed to persist report")
		return false
	}
	return true
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListReports(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// DeleteReport removes a report and its original document.
func (s *Service) DeleteReport(ctx context.Context, id uuid.UUID) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, r.DocumentID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("document_id", r.DocumentID).Msg("failed to delete original document")
	}
	return nil
}

// Document returns the original upload of a report.
func (s *Service) Document(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.blobs.Download(ctx, r.DocumentID)
}

// Explain generates an explanation for a single value on demand.
func (s *Service) Explain(ctx context.Context, o Observation, status Status) string {
	text, _ := s.enricher.Explain(ctx, o, status)
	return text
}

// Alert generates an alert for a single value on demand.
func (s *Service) Alert(ctx context.Context, testName string, status Status, severity Severity) string {
	text, _ := s.enricher.Alert(ctx, testName, status, severity)
	return text
}
