package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quarry/internal/analytics"
	"quarry/internal/config"
	"quarry/internal/embedding"
	"quarry/internal/logging"
	"quarry/internal/retrieval"
	"quarry/internal/store"
	"quarry/internal/types"
)

// Upload validation errors. The server layer maps these to API error
// codes.
var (
	ErrInvalidFilename = errors.New("filename is required")
	ErrUnsupportedType = errors.New("unsupported file type, allowed: .pdf, .xlsx, .xls")
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
)

// vectorUpsertWorkers bounds concurrent embedding calls during chunk
// indexing.
const vectorUpsertWorkers = 4

// Service owns the document lifecycle: upload, background processing,
// deletion, and startup reconciliation of the analytics catalog.
type Service struct {
	st       *store.Store
	embedder embedding.Engine
	manager  *config.Manager
	ingestor *analytics.Ingestor
	catalog  *analytics.Catalog
}

// NewService creates a service. embedder, ingestor and catalog may be
// nil; the corresponding steps are skipped.
func NewService(st *store.Store, embedder embedding.Engine, manager *config.Manager,
	ingestor *analytics.Ingestor, catalog *analytics.Catalog) *Service {
	return &Service{st: st, embedder: embedder, manager: manager, ingestor: ingestor, catalog: catalog}
}

// Upload validates and persists an uploaded file and creates its
// pending document record. Processing is the caller's next step.
func (s *Service) Upload(ctx context.Context, filename string, content []byte) (*types.Document, error) {
	cfg := s.manager.Current()

	if filename == "" {
		return nil, ErrInvalidFilename
	}
	docType, ok := DocTypeFromFilename(filename)
	if !ok {
		return nil, ErrUnsupportedType
	}
	if int64(len(content)) > int64(cfg.MaxUploadMB)*1024*1024 {
		return nil, fmt.Errorf("%w: %dMB", ErrFileTooLarge, cfg.MaxUploadMB)
	}

	doc := &types.Document{
		ID:        uuid.NewString(),
		Filename:  SanitizeFilename(filename),
		DocType:   docType,
		SizeBytes: int64(len(content)),
		Status:    types.StatusPending,
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if err := os.WriteFile(s.filePath(cfg.UploadDir, doc.ID, doc.Filename), content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.st.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	logging.Ingest("uploaded %s (%s, %d bytes)", doc.Filename, doc.ID, doc.SizeBytes)
	return doc, nil
}

// filePath is the on-disk location of an upload: {upload_dir}/{id}_{name}.
func (s *Service) filePath(uploadDir, documentID, filename string) string {
	return filepath.Join(uploadDir, documentID+"_"+filename)
}

// Process runs the full pipeline for one uploaded document. Failures
// land in the document's error status, not in the return value; only
// status bookkeeping itself can error.
func (s *Service) Process(ctx context.Context, doc *types.Document) error {
	timer := logging.StartTimer(logging.CategoryIngest, "Process")
	defer timer.Stop()

	cfg := s.manager.Current()
	path := s.filePath(cfg.UploadDir, doc.ID, doc.Filename)

	if err := s.st.UpdateDocumentStatus(ctx, doc.ID, types.StatusProcessing, ""); err != nil {
		return err
	}

	chunks, wb, err := s.extract(doc, path)
	if err != nil {
		logging.IngestWarn("processing failed for %s: %v", doc.ID, err)
		return s.st.UpdateDocumentStatus(ctx, doc.ID, types.StatusError, err.Error())
	}
	if len(chunks) == 0 {
		return s.st.UpdateDocumentStatus(ctx, doc.ID, types.StatusError, "No content could be extracted")
	}

	if err := s.st.SaveChunks(ctx, chunks); err != nil {
		logging.IngestWarn("failed to save chunks for %s: %v", doc.ID, err)
		return s.st.UpdateDocumentStatus(ctx, doc.ID, types.StatusError, err.Error())
	}

	if cfg.OfflineRetrievalMode == "semantic" && s.embedder != nil {
		s.indexChunks(ctx, doc, chunks)
	}

	if wb != nil && cfg.EnableTabularAnalytics && s.ingestor != nil {
		if err := s.ingestor.IngestWorkbook(ctx, doc.ID, wb); err != nil {
			logging.IngestWarn("analytics ingestion failed for %s: %v", doc.ID, err)
		}
	}

	logging.Ingest("processed %s: %d chunk(s)", doc.ID, len(chunks))
	return s.st.UpdateDocumentStatus(ctx, doc.ID, types.StatusReady, "")
}

// extract parses and chunks the file. The workbook is returned for
// spreadsheets so analytics ingestion can reuse the parse.
func (s *Service) extract(doc *types.Document, path string) ([]types.DocumentChunk, *types.Workbook, error) {
	switch doc.DocType {
	case types.DocTypePDF:
		pages, err := ParsePDF(path)
		if err != nil {
			return nil, nil, err
		}
		return ChunkPages(doc.ID, pages), nil, nil
	case types.DocTypeXLSX, types.DocTypeXLS:
		wb, err := ParseWorkbook(path)
		if err != nil {
			return nil, nil, err
		}
		return ChunkWorkbook(doc.ID, wb), wb, nil
	}
	return nil, nil, fmt.Errorf("unsupported document type: %s", doc.DocType)
}

// indexChunks embeds and upserts chunk vectors. Individual failures are
// swallowed; keyword retrieval still covers the chunk.
func (s *Service) indexChunks(ctx context.Context, doc *types.Document, chunks []types.DocumentChunk) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(vectorUpsertWorkers)

	for _, chunk := range chunks {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, chunk.Content)
			if err != nil {
				logging.IngestWarn("embedding failed for chunk %s: %v", chunk.ID, err)
				return nil
			}
			entry := store.VectorEntry{
				ID:         retrieval.ChunkVectorPrefix + chunk.ID,
				DocumentID: chunk.DocumentID,
				Content:    chunk.Content,
				Metadata:   retrieval.EncodeChunkVectorMeta(doc.Filename, chunk.Meta),
				Embedding:  vec,
			}
			if err := s.st.UpsertVector(gctx, entry); err != nil {
				logging.IngestWarn("vector upsert failed for chunk %s: %v", chunk.ID, err)
			}
			return nil
		})
	}
	g.Wait()
}

// Delete removes a document everywhere: vectors, analytics tables,
// store rows, and the uploaded file. Missing pieces are not errors.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	cfg := s.manager.Current()

	if err := s.st.DeleteVectorsByDocument(ctx, documentID); err != nil {
		logging.IngestWarn("vector cleanup failed for %s: %v", documentID, err)
	}
	if s.catalog != nil {
		if err := s.catalog.DeleteDocument(ctx, documentID); err != nil {
			logging.IngestWarn("analytics cleanup failed for %s: %v", documentID, err)
		}
	}
	if err := s.st.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	matches, err := filepath.Glob(filepath.Join(cfg.UploadDir, documentID+"_*"))
	if err != nil {
		return nil
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			logging.IngestWarn("failed to remove upload %s: %v", path, err)
		}
	}
	return nil
}

// ReconcileAnalytics ingests ready spreadsheets that are missing from
// the analytics catalog, typically after an upgrade that enabled
// analytics. Best effort per document.
func (s *Service) ReconcileAnalytics(ctx context.Context) error {
	cfg := s.manager.Current()
	if !cfg.EnableTabularAnalytics || s.ingestor == nil || s.catalog == nil {
		return nil
	}

	existing, err := s.catalog.ListAllDocumentIDs(ctx)
	if err != nil {
		return err
	}
	ingested := make(map[string]bool, len(existing))
	for _, id := range existing {
		ingested[id] = true
	}

	docs, err := s.st.ListDocuments(ctx)
	if err != nil {
		return err
	}

	count := 0
	for _, doc := range docs {
		if doc.DocType != types.DocTypeXLSX && doc.DocType != types.DocTypeXLS {
			continue
		}
		if doc.Status != types.StatusReady || ingested[doc.ID] {
			continue
		}
		path := s.filePath(cfg.UploadDir, doc.ID, doc.Filename)
		wb, err := ParseWorkbook(path)
		if err != nil {
			logging.IngestWarn("reconcile: cannot parse %s: %v", path, err)
			continue
		}
		if err := s.ingestor.IngestWorkbook(ctx, doc.ID, wb); err != nil {
			logging.IngestWarn("reconcile: analytics ingestion failed for %s: %v", doc.ID, err)
			continue
		}
		count++
	}
	if count > 0 {
		logging.Ingest("reconciled analytics for %d document(s)", count)
	}
	return nil
}
