// Package dialer originates outbound calls through the switch and leaves a
// pending association for the audio connection that follows.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/pkg/logging"
)

var (
	ErrInvalidNumber   = errors.New("dialer: invalid phone number")
	ErrOriginateFailed = errors.New("dialer: origination failed")
)

const (
	minDigits   = 10
	maxDigits   = 13
	localDigits = 11
)

// Normalize strips everything but digits and prefixes countryCode onto
// local numbers (10 or 11 digits).
func Normalize(number, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidNumber, number, len(digits))
	}
	if len(digits) <= localDigits {
		digits = countryCode + digits
	}
	return digits, nil
}

// Originator is the switch operation the dialer needs.
type Originator interface {
	Originate(ctx context.Context, req esl.OriginateRequest) (esl.Result, error)
}

// Source labels who asked for a call.
const (
	SourceAPI      = "api"
	SourceCampaign = "campaign"
	SourceSchedule = "schedule"
)

// Request describes one outbound call.
type Request struct {
	Number     string
	Profile    *call.Profile
	Source     string
	CampaignID int64
	ContactID  int64
}

type Config struct {
	BridgeURL   string
	CountryCode string
}

type Dialer struct {
	sw      Originator
	pending call.PendingStore
	cfg     Config
	metrics *metrics.CallMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func New(sw Originator, pending call.PendingStore, cfg Config, m *metrics.CallMetrics, logger *logging.Logger) *Dialer {
	if sw == nil || pending == nil {
		panic("dialer: originator and pending store are required")
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "55"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dialer{sw: sw, pending: pending, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// Dial validates the number, originates the call and records the pending
// association. It returns the new call id only when the switch accepted it.
func (d *Dialer) Dial(ctx context.Context, req Request) (string, error) {
	source := req.Source
	if source == "" {
		source = SourceAPI
	}
	number, err := Normalize(req.Number, d.cfg.CountryCode)
	if err != nil {
		d.logger.Warn("rejecting outbound call", "number", req.Number, "error", err)
		return "", err
	}

	callID := call.NewID(d.now())
	logger := d.logger.With("call_id", callID, "number", number, "source", source)
	logger.Info("originating call")

	// The switch may open the audio connection before bgapi returns, so the
	// association has to exist first.
	if err := d.pending.Put(ctx, call.Pending{
		CallID:     callID,
		Number:     number,
		Source:     source,
		CampaignID: req.CampaignID,
		ContactID:  req.ContactID,
		Profile:    req.Profile,
		CreatedAt:  d.now().UTC(),
	}); err != nil {
		logger.Warn("storing pending call failed; the session will use the active prompt", "error", err)
	}

	res, err := d.sw.Originate(ctx, esl.OriginateRequest{
		CallID:    callID,
		Number:    number,
		BridgeURL: d.cfg.BridgeURL,
	})
	d.metrics.ObserveOrigination(source, res.OK)
	if !res.OK {
		logger.Error("origination failed", "response", res.Raw, "error", err)
		if _, takeErr := d.pending.Take(context.WithoutCancel(ctx), callID); takeErr != nil && !errors.Is(takeErr, call.ErrPendingNotFound) {
			logger.Warn("dropping pending call failed", "error", takeErr)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrOriginateFailed, err)
		}
		return "", fmt.Errorf("%w: %s", ErrOriginateFailed, strings.TrimSpace(res.Raw))
	}

	logger.Info("call originated")
	return callID, nil
}
