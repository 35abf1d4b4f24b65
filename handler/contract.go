package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bobby854854854/LexiSense/middleware"
	"github.com/bobby854854854/LexiSense/model"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/service"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is the slack allowed on top of the file size for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

type ContractHandler struct {
	ingestor  *service.Ingestor
	contracts service.ContractStore
	blobs     service.BlobStore
	urlTTL    time.Duration
}

func NewContractHandler(ingestor *service.Ingestor, contracts service.ContractStore, blobs service.BlobStore, urlTTL time.Duration) *ContractHandler {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &ContractHandler{
		ingestor:  ingestor,
		contracts: contracts,
		blobs:     blobs,
		urlTTL:    urlTTL,
	}
}

// Upload accepts a multipart contract upload, field contractFile or file.
func (h *ContractHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	maxBytes := h.ingestor.MaxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	header, err := c.FormFile("contractFile")
	if errors.Is(err, http.ErrMissingFile) {
		header, err = c.FormFile("file")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, service.ErrPayloadTooLarge)
			return
		}
		logger.Info(ctx, "upload without file", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request."})
		return
	}
	if header.Size > maxBytes {
		respondError(c, service.ErrPayloadTooLarge)
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request."})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request."})
		return
	}

	contract, err := h.ingestor.Ingest(ctx, service.IngestRequest{
		Data:       data,
		Filename:   header.Filename,
		UploaderID: middleware.GetUserID(c),
		TenantID:   middleware.GetTenant(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contract)
}

// List returns all contracts of the current tenant, newest first
func (h *ContractHandler) List(c *gin.Context) {
	contracts, err := h.contracts.List(c.Request.Context(), middleware.GetTenant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contracts)
}

// Get returns a single contract with its analysis
func (h *ContractHandler) Get(c *gin.Context) {
	contract, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contract)
}

// GetStatus returns the processing status of a contract
func (h *ContractHandler) GetStatus(c *gin.Context) {
	contract, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            contract.ID,
		"status":        contract.Status,
		"analysisError": contract.AnalysisError,
		"updatedAt":     contract.UpdatedAt,
	})
}

// Download returns a short-lived signed URL for the stored document
func (h *ContractHandler) Download(c *gin.Context) {
	contract, ok := h.lookup(c)
	if !ok {
		return
	}

	url, err := h.blobs.SignedURL(c.Request.Context(), contract.StorageKey, h.urlTTL)
	if err != nil {
		if errors.Is(err, service.ErrBlobNotFound) {
			respondError(c, service.ErrNotFound)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       url,
		"expiresAt": time.Now().Add(h.urlTTL).UTC(),
	})
}

// Analyze re-dispatches analysis for a contract that is still processing
func (h *ContractHandler) Analyze(c *gin.Context) {
	contract, ok := h.lookup(c)
	if !ok {
		return
	}
	if contract.Status != model.StatusProcessing {
		respondError(c, service.ErrNotProcessing)
		return
	}

	queued := h.ingestor.Dispatch(logger.WithContract(c.Request.Context(), contract.ID), service.Job{
		ContractID: contract.ID,
		TenantID:   contract.OrganizationID,
		StorageKey: contract.StorageKey,
		MIMEType:   contract.MIMEType,
	})
	if !queued {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Analysis queue is full. Please try again later."})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": contract.ID, "status": contract.Status})
}

// Delete removes the contract record and its stored document
func (h *ContractHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	contract, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.contracts.Delete(ctx, contract.OrganizationID, contract.ID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.blobs.Delete(ctx, contract.StorageKey); err != nil && !errors.Is(err, service.ErrBlobNotFound) {
		logger.Error(ctx, "blob delete failed", "contract_id", contract.ID, "storage_key", contract.StorageKey, "error", err)
	}

	logger.Info(ctx, "contract deleted", "contract_id", contract.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// Analytics returns risk and status distribution for the tenant
func (h *ContractHandler) Analytics(c *gin.Context) {
	contracts, err := h.contracts.List(c.Request.Context(), middleware.GetTenant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewAnalytics(contracts))
}

// lookup loads the :id contract scoped to the caller's tenant. A contract of
// another tenant is reported as not found.
func (h *ContractHandler) lookup(c *gin.Context) (*model.Contract, bool) {
	contract, err := h.contracts.Get(c.Request.Context(), middleware.GetTenant(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return contract, true
}

func respondError(c *gin.Context, err error) {
	appErr := service.MapError(err)
	if appErr.Code >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "error", err)
	}
	c.JSON(appErr.Code, gin.H{"message": appErr.Message})
}
