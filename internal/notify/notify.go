// Package notify pushes critical anomalies to an operator webhook.
package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

// Notifier POSTs CRITICAL anomalies to a configured webhook URL.
// Delivery is best effort: failures are logged and never fail the
// detection cycle. A Notifier with an empty URL is a no-op.
type Notifier struct {
	client *resty.Client
	url    string
}

func New(url string, timeout time.Duration) *Notifier {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(2)
	r.SetRetryWaitTime(500 * time.Millisecond)
	return &Notifier{client: r, url: url}
}

// Notify posts the CRITICAL subset of the batch, if any.
func (n *Notifier) Notify(anomalies []telemetry.Anomaly) {
	if n == nil || n.url == "" {
		return
	}

	var critical []telemetry.Anomaly
	for _, a := range anomalies {
		if a.Severity == telemetry.SeverityCritical {
			critical = append(critical, a)
		}
	}
	if len(critical) == 0 {
		return
	}

	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(critical).
		Post(n.url)
	if err != nil {
		log.Warn().Err(err).Int("count", len(critical)).Msg("webhook notification failed")
		return
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Int("count", len(critical)).
			Msg("webhook rejected notification")
		return
	}
	log.Info().Int("count", len(critical)).Msg("critical anomalies notified")
}
