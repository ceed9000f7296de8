package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/archive"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/jsonfile"
	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
)

// SnapshotArchiver copies the whole access store to an archive sink on a
// fixed interval. It only reads the store.
//
// An interval of 0 disables archiving.
type SnapshotArchiver struct {
	store    store.AccessStore
	sink     archive.Sink
	interval time.Duration
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type ArchiverConfig struct {
	Interval time.Duration
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func NewSnapshotArchiver(st store.AccessStore, sink archive.Sink, cfg ArchiverConfig) *SnapshotArchiver {
	a := &SnapshotArchiver{
		store:    st,
		sink:     sink,
		interval: cfg.Interval,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		done:     make(chan struct{}),
	}
	if a.log == nil {
		a.log = logrus.StandardLogger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Start archives once right away and then every interval until ctx ends or
// Stop is called.
func (a *SnapshotArchiver) Start(ctx context.Context) {
	if a.interval <= 0 || a.sink == nil {
		a.log.Info("snapshot archiver disabled")
		close(a.done)
		return
	}

	ctx, a.cancel = context.WithCancel(ctx)
	go a.loop(ctx)

	a.log.WithFields(logrus.Fields{"sink": a.sink.String(), "interval": a.interval}).Info("snapshot archiver started")
}

// Stop ends the loop and waits for an in-flight archive to finish.
func (a *SnapshotArchiver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
}

func (a *SnapshotArchiver) loop(ctx context.Context) {
	defer close(a.done)

	a.archiveAndLog(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.archiveAndLog(ctx)
		}
	}
}

func (a *SnapshotArchiver) archiveAndLog(ctx context.Context) {
	key, err := a.ArchiveNow(ctx)
	a.metrics.Archived(err == nil)
	if err != nil {
		a.log.WithError(err).Warn("snapshot archive failed")
		return
	}
	a.log.WithField("key", key).Debug("snapshot archived")
}

// ArchiveNow writes one snapshot and returns its key.
func (a *SnapshotArchiver) ArchiveNow(ctx context.Context) (string, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load snapshot: %w", err)
	}
	data, err := jsonfile.Encode(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := SnapshotKey(a.now())
	if err := a.sink.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// SnapshotKey names an archive by its UTC time, so keys sort chronologically.
func SnapshotKey(t time.Time) string {
	return "snapshots/gate-" + t.UTC().Format("20060102T150405.000Z") + ".json"
}
