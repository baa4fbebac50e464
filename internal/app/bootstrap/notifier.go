package bootstrap

import (
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/ligai/internal/config"
	"github.com/wolfman30/ligai/internal/events"
	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/pkg/logging"
)

// Notifiers bundles the event fan-out with the pieces that need draining
// on shutdown.
type Notifiers struct {
	events.Multi
	Webhooks *events.WebhookNotifier
	Queue    *events.SQSNotifier
}

// Close stops webhook retries and waits for in-flight sends.
func (n *Notifiers) Close() {
	if n.Webhooks != nil {
		n.Webhooks.Close()
		n.Webhooks.Wait()
	}
	if n.Queue != nil {
		n.Queue.Wait()
	}
}

// BuildNotifiers always logs events; webhooks need a store and SQS needs a client.
func BuildNotifiers(cfg *appconfig.Config, store events.WebhookStore, sqsClient *sqs.Client, m *metrics.CallMetrics, logger *logging.Logger) *Notifiers {
	if logger == nil {
		logger = logging.Default()
	}
	n := &Notifiers{Multi: events.Multi{events.NewLogNotifier(logger)}}
	if store != nil {
		n.Webhooks = events.NewWebhookNotifier(store, &http.Client{Timeout: cfg.WebhookTimeout}, m, logger)
		n.Multi = append(n.Multi, n.Webhooks)
	}
	if sqsClient != nil && cfg.EventsQueueURL != "" {
		n.Queue = events.NewSQSNotifier(sqsClient, cfg.EventsQueueURL, logger)
		n.Multi = append(n.Multi, n.Queue)
		logger.Info("sqs event fan-out enabled", "queue_url", cfg.EventsQueueURL)
	}
	return n
}
