// internal/services/bulk_service.go
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

type BulkCreateRequest struct {
	Template CreateLicenseRequest `json:"template"`
	Count    int                  `json:"count" validate:"required,min=1"`
	Export   bool                 `json:"export,omitempty"`
}

type BulkFailure struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type BulkResult struct {
	Requested int              `json:"requested"`
	Succeeded []models.License `json:"succeeded"`
	Failed    []BulkFailure    `json:"failed"`
	Cancelled bool             `json:"cancelled,omitempty"`
	ExportURL string           `json:"export_url,omitempty"`
}

// BulkProvisioner issues many licenses from one template. Items are
// independent: a failure is recorded against its index and the rest
// continue.
type BulkProvisioner struct {
	licenses            *LicenseService
	storage             *StorageService
	notificationService *NotificationService
	maxCount            int
	workers             int
	logger              *logrus.Logger
}

func NewBulkProvisioner(licenses *LicenseService, storage *StorageService, notificationService *NotificationService, maxCount, workers int, logger *logrus.Logger) *BulkProvisioner {
	if maxCount < 1 {
		maxCount = 1000
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BulkProvisioner{
		licenses:            licenses,
		storage:             storage,
		notificationService: notificationService,
		maxCount:            maxCount,
		workers:             workers,
		logger:              logger,
	}
}

func (b *BulkProvisioner) BulkCreate(ctx context.Context, actor Actor, req *BulkCreateRequest) (*BulkResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, wrapError(KindValidationFailed, err, "invalid bulk request")
	}
	if req.Count > b.maxCount {
		return nil, newError(KindValidationFailed, "count must be between 1 and %d", b.maxCount)
	}
	if err := utils.ValidateStruct(&req.Template); err != nil {
		return nil, wrapError(KindValidationFailed, err, "invalid license template")
	}
	if req.Template.OwnerID != "" && req.Template.OwnerID != actor.UserID && !actor.CanIssue() {
		return nil, newError(KindPermissionDenied, "user %s may not issue licenses to %s", actor.UserID, req.Template.OwnerID)
	}

	var (
		mu       sync.Mutex
		licenses = make(map[int]*models.License, req.Count)
		failures = make(map[int]error)
	)
	fail := func(index int, err error) {
		mu.Lock()
		failures[index] = err
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(b.workers)

	for i := 0; i < req.Count; i++ {
		if err := ctx.Err(); err != nil {
			for j := i; j < req.Count; j++ {
				fail(j, err)
			}
			break
		}

		index := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(index, err)
				return nil
			}
			template := req.Template
			license, err := b.licenses.issue(ctx, actor, &template, "bulk")
			if err != nil {
				fail(index, err)
				return nil
			}
			mu.Lock()
			licenses[index] = license
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are collected per index.
	_ = g.Wait()

	result := &BulkResult{
		Requested: req.Count,
		Succeeded: make([]models.License, 0, len(licenses)),
		Failed:    make([]BulkFailure, 0, len(failures)),
		Cancelled: ctx.Err() != nil,
	}
	for i := 0; i < req.Count; i++ {
		if license, ok := licenses[i]; ok {
			result.Succeeded = append(result.Succeeded, *license)
		}
	}
	for index, err := range failures {
		result.Failed = append(result.Failed, BulkFailure{
			Index: index,
			Kind:  bulkErrorKind(err),
			Error: err.Error(),
		})
	}
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Index < result.Failed[j].Index })

	b.logger.WithFields(logrus.Fields{
		"actor":     actor.UserID,
		"requested": req.Count,
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
		"cancelled": result.Cancelled,
	}).Info("Bulk license creation finished")

	if req.Export && b.storage != nil && !result.Cancelled {
		if url, err := b.export(ctx, result); err != nil {
			b.logger.WithError(err).Warn("Failed to export bulk result")
		} else {
			result.ExportURL = url
		}
	}

	// Cancellation may have already ended the request context.
	b.notificationService.BulkCompleted(context.WithoutCancel(ctx), actor.UserID, result)
	return result, nil
}

func bulkErrorKind(err error) string {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "cancelled"
	}
	return KindOf(err).String()
}

func (b *BulkProvisioner) export(ctx context.Context, result *BulkResult) (string, error) {
	data, err := encodeBulkCSV(result)
	if err != nil {
		return "", err
	}
	upload, err := b.storage.Upload(ctx, "licenses.csv", "text/csv", data)
	if err != nil {
		return "", err
	}
	return upload.URL, nil
}

func encodeBulkCSV(result *BulkResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"license_id", "key", "owner_id", "type", "max_activations", "expiration_date"}); err != nil {
		return nil, err
	}
	for _, license := range result.Succeeded {
		expiration := ""
		if license.ExpirationDate != nil {
			expiration = license.ExpirationDate.UTC().Format(time.RFC3339)
		}
		record := []string{
			license.ID.String(),
			license.Key,
			license.OwnerID,
			string(license.Type),
			strconv.Itoa(license.MaxActivations),
			expiration,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return buf.Bytes(), nil
}
