package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/actuator"
	"github.com/BrandonDHaskell/gatekeeper/internal/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
)

var (
	ErrInvalidTagID     = errors.New("tag_id is required")
	ErrInvalidDirection = errors.New("direction must be IN or OUT")
)

type IngestOptions struct {
	Logger    logrus.FieldLogger
	Publisher events.Publisher
	Metrics   *metrics.Metrics

	// ReaderState reports the serial link state for Status. Nil means no
	// reader is configured.
	ReaderState func() string

	Now   func() time.Time
	NewID func() (string, error)
}

// IngestService turns a tag read into a persisted ScanLog and, when the tag
// is registered, opens the gate. Reader and manual scans both enter here.
type IngestService struct {
	store     store.AccessStore
	gate      actuator.Actuator
	log       logrus.FieldLogger
	publisher events.Publisher
	metrics   *metrics.Metrics
	readerFn  func() string
	now       func() time.Time
	newID     func() (string, error)
}

func NewIngestService(st store.AccessStore, gate actuator.Actuator, opts IngestOptions) *IngestService {
	s := &IngestService{
		store:     st,
		gate:      gate,
		log:       opts.Logger,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		readerFn:  opts.ReaderState,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newLogID
	}
	return s
}

// newLogID returns a UUIDv7, which sorts by creation time.
func newLogID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ProcessScan decides, persists, actuates and publishes, in that order. The
// returned log is durable once ProcessScan returns without error. Actuation
// and publish failures are logged and do not fail the scan.
func (s *IngestService) ProcessScan(ctx context.Context, tagID string, dir types.Direction) (types.ScanLog, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return types.ScanLog{}, ErrInvalidTagID
	}
	if !dir.Valid() {
		return types.ScanLog{}, fmt.Errorf("%w: %q", ErrInvalidDirection, string(dir))
	}

	id, err := s.newID()
	if err != nil {
		return types.ScanLog{}, fmt.Errorf("generate log id: %w", err)
	}

	var entry types.ScanLog
	err = s.store.Update(ctx, func(snap *store.Snapshot) error {
		status, vehicleNo := Decide(tagID, snap.Vehicles)
		entry = types.ScanLog{
			ID:        id,
			TagID:     tagID,
			VehicleNo: vehicleNo,
			Timestamp: s.now().Format(types.TimestampLayout),
			Direction: dir,
			Status:    status,
		}
		snap.Logs = append([]types.ScanLog{entry}, snap.Logs...)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.log.WithError(err).WithField("tag_id", tagID).Warn("scan abandoned before it was recorded")
		} else {
			s.metrics.StoreError()
			s.log.WithError(err).WithField("tag_id", tagID).Error("scan not recorded")
		}
		return types.ScanLog{}, fmt.Errorf("record scan: %w", err)
	}

	s.metrics.ScanRecorded(string(entry.Status), string(entry.Direction))
	fields := logrus.Fields{
		"tag_id":     entry.TagID,
		"vehicle_no": entry.VehicleNo,
		"direction":  entry.Direction,
		"status":     entry.Status,
	}
	s.log.WithFields(fields).Info("scan recorded")

	if entry.Authorized() {
		if err := s.gate.Trigger(ctx); err != nil {
			s.metrics.ActuationFailed()
			s.log.WithError(err).WithFields(fields).Error("gate actuation failed")
		}
	}

	if err := s.publisher.Publish(ctx, entry); err != nil {
		s.log.WithError(err).WithField("log_id", entry.ID).Warn("scan event not published")
	}

	return entry, nil
}

// Logs returns persisted logs newest first. limit <= 0 returns all of them.
func (s *IngestService) Logs(ctx context.Context, limit int) ([]types.ScanLog, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	logs := snap.Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Status reports liveness and the hardware the service is wired to. It does
// not touch the store.
func (s *IngestService) Status(_ context.Context) types.StatusResponse {
	reader := "disabled"
	if s.readerFn != nil {
		reader = s.readerFn()
	}
	return types.StatusResponse{
		Online:            true,
		HardwareAvailable: actuator.IsHardware(s.gate),
		ReaderState:       reader,
		ServerTime:        s.now().UTC().Format(time.RFC3339),
	}
}
