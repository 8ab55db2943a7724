package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/domain"
)

// BatchSyncer reconciles all non-terminal orders
type BatchSyncer interface {
	SyncAllOrdersStatus(ctx context.Context, p domain.Principal) (*BatchSyncResult, error)
}

// SyncLoop runs a full reconciliation pass every interval as the system principal
type SyncLoop struct {
	syncer    BatchSyncer
	principal domain.Principal
	interval  time.Duration
	logger    *zap.Logger
}

func NewSyncLoop(syncer BatchSyncer, cfg config.SyncConfig, logger *zap.Logger) *SyncLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncLoop{
		syncer:    syncer,
		principal: domain.Principal{OperatorID: cfg.SystemOperatorID, SourceAddress: cfg.SystemSourceAddress},
		interval:  cfg.Interval,
		logger:    logger,
	}
}

// Run blocks until ctx ends. A zero interval disables the loop.
func (l *SyncLoop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		l.logger.Info("Background order sync disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Background order sync started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.syncer.SyncAllOrdersStatus(ctx, l.principal); err != nil && ctx.Err() == nil {
				l.logger.Error("Background order sync failed", zap.Error(err))
			}
		}
	}
}
