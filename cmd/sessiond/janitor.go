package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

type pruner interface {
	PruneRetention(ctx context.Context) (tokenauth.PruneResult, error)
}

// runJanitor prunes expired rows every interval until ctx is done. A zero
// interval disables it.
func runJanitor(ctx context.Context, p pruner, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, p, logger)
		}
	}
}

func pruneOnce(ctx context.Context, p pruner, logger logrus.FieldLogger) {
	res, err := p.PruneRetention(ctx)
	if err != nil {
		logger.WithError(err).Warn("retention prune failed")
		return
	}
	if res.TokensDeleted > 0 || res.AttemptsDeleted > 0 {
		logger.WithFields(logrus.Fields{
			"tokens":   res.TokensDeleted,
			"attempts": res.AttemptsDeleted,
		}).Info("retention pruned")
	}
}
