package tokenauth

import (
	"context"

	"github.com/abrahamahn/abe-stack-sub006/internal"
	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/sirupsen/logrus"
)

// writeSecurityEvent persists ev. Security events never gate the operation
// that produced them, so a failed write is logged with the full event.
func (e *Engine) writeSecurityEvent(ctx context.Context, ev *session.SecurityEvent) {
	if ev.ID == "" {
		ev.ID = internal.NewEventID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now()
	}

	if err := e.events.Create(ctx, ev); err != nil {
		e.metricInc(MetricSecurityEventWriteFailure)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"event":     ev.Type,
			"user_id":   ev.UserID,
			"family_id": ev.FamilyID,
		}).Error("security event not persisted")
	}
}

// logEventSink is the fallback SecurityEventSink when none is configured.
type logEventSink struct {
	logger logrus.FieldLogger
}

func (s logEventSink) Create(_ context.Context, ev *session.SecurityEvent) error {
	fields := logrus.Fields{
		"event":     ev.Type,
		"user_id":   ev.UserID,
		"family_id": ev.FamilyID,
		"ip":        ev.IPAddress,
	}
	for k, v := range ev.Metadata {
		fields["meta_"+k] = v
	}
	s.logger.WithFields(fields).Warn("security event")
	return nil
}
