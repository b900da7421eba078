package notify

import (
	"context"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// Sender delivers an alert to one external collaborator.
// reportPath is the local structured artifact, empty when it was not written.
type Sender interface {
	Name() string
	Send(ctx context.Context, alert *Alert, reportPath string) error
}

// Trigger decides whether a run alerts and hands the payload to its senders.
// A Trigger without senders never alerts.
type Trigger struct {
	senders []Sender
}

// NewTrigger creates a Trigger for the enabled senders.
func NewTrigger(senders ...Sender) *Trigger {
	return &Trigger{senders: senders}
}

// Enabled reports whether any sender is configured.
func (t *Trigger) Enabled() bool {
	return len(t.senders) > 0
}

// Fire builds the alert and hands it to every sender. Sender failures are
// logged and never returned. The alert is returned when one was built.
func (t *Trigger) Fire(ctx context.Context, records []domain.Discrepancy, runDate time.Time, reportRef, reportPath string) (*Alert, bool) {
	log := logger.FromContext(ctx)

	if !t.Enabled() {
		log.Info().Msg("Alerts disabled, no alert sent")
		return nil, false
	}

	alert, ok := BuildAlert(records, runDate, reportRef)
	if !ok {
		log.Info().Msg("No discrepancies found, no alert sent")
		return nil, false
	}

	for _, s := range t.senders {
		if err := s.Send(ctx, alert, reportPath); err != nil {
			log.Error().Err(err).Str("sender", s.Name()).Msg("Failed to send alert")
			continue
		}
		log.Info().Str("sender", s.Name()).Int("discrepancies", alert.Count).Msg("Alert sent")
	}

	return alert, true
}
