package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bobby854854854/LexiSense/model"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes caps a single upload.
const DefaultMaxUploadBytes = 10 << 20

// Job is one unit of analysis work. Data may be nil, in which case the
// worker loads the bytes from the blob store.
type Job struct {
	ContractID string
	TenantID   string
	StorageKey string
	MIMEType   string
	Data       []byte
}

// Dispatcher hands jobs to the analysis workers. Submit never blocks and
// reports whether the job was queued.
type Dispatcher interface {
	Submit(job Job) bool
}

// IngestRequest is one upload as received by the HTTP layer.
type IngestRequest struct {
	Data       []byte
	Filename   string
	UploaderID string
	TenantID   string
}

// Ingestor validates uploads, persists bytes and record, and schedules
// analysis.
type Ingestor struct {
	blobs      BlobStore
	contracts  ContractStore
	dispatcher Dispatcher
	maxBytes   int64
	now        func() time.Time
}

func NewIngestor(blobs BlobStore, contracts ContractStore, dispatcher Dispatcher, maxBytes int64) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Ingestor{
		blobs:      blobs,
		contracts:  contracts,
		dispatcher: dispatcher,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// MaxBytes is the upload size limit.
func (i *Ingestor) MaxBytes() int64 {
	return i.maxBytes
}

// Ingest accepts an upload and returns the new processing record. Analysis
// is scheduled after the record exists and never delays the return.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*model.Contract, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if int64(len(req.Data)) > i.maxBytes {
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", len(req.Data), i.maxBytes, ErrPayloadTooLarge)
	}

	mimeType := Sniff(req.Data)
	if !Allowed(mimeType) {
		logger.Info(ctx, "upload rejected", "filename", req.Filename, "detected_type", mimeType)
		return nil, fmt.Errorf("detected %s: %w", mimeType, ErrUnsupportedMediaType)
	}

	key := StorageKey(req.TenantID, mimeType)
	meta := map[string]string{
		MetaOrganizationID:   req.TenantID,
		MetaOriginalFilename: req.Filename,
	}
	if err := i.blobs.Put(ctx, key, req.Data, mimeType, meta); err != nil {
		logger.Error(ctx, "blob write failed", "storage_key", key, "error", err)
		return nil, fmt.Errorf("%v: %w", err, ErrStorage)
	}

	now := i.now().UTC()
	contract := &model.Contract{
		ID:               uuid.NewString(),
		OrganizationID:   req.TenantID,
		UploadedByUserID: req.UploaderID,
		Name:             req.Filename,
		StorageKey:       key,
		MIMEType:         mimeType,
		SizeBytes:        int64(len(req.Data)),
		Status:           model.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := i.contracts.Create(ctx, contract); err != nil {
		logger.Error(ctx, "contract record write failed", "storage_key", key, "error", err)
		if delErr := i.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.Error(ctx, "orphan blob cleanup failed", "storage_key", key, "error", delErr)
		}
		return nil, fmt.Errorf("%v: %w", err, ErrStorage)
	}

	ctx = logger.WithContract(ctx, contract.ID)
	logger.Info(ctx, "contract ingested", "mime_type", mimeType, "size_bytes", contract.SizeBytes)

	i.Dispatch(ctx, Job{
		ContractID: contract.ID,
		TenantID:   contract.OrganizationID,
		StorageKey: key,
		MIMEType:   mimeType,
		Data:       req.Data,
	})

	return contract, nil
}

// Dispatch submits job, logging when the queue is full. The sweeper picks
// up records whose job never ran.
func (i *Ingestor) Dispatch(ctx context.Context, job Job) bool {
	if i.dispatcher == nil || !i.dispatcher.Submit(job) {
		logger.Warn(ctx, "analysis queue full, deferring to sweeper", "contract_id", job.ContractID)
		return false
	}
	return true
}
