// Package dispatch delivers decision side effects off the response path:
// soft-lock triggers, alert webhooks, audit writes and live stream events.
// Delivery is best effort and at-most-once; failures are logged, never
// propagated back to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/audit"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/fusion"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/httpx"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/stream"
)

const defaultTimeout = 10 * time.Second

// AuditSink persists the audit trail of a decision.
type AuditSink interface {
	RecordDecision(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) error
	RecordSecurityAlert(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) error
}

// Config wires the delivery targets. Empty URLs disable their effect.
type Config struct {
	SoftLockURL string
	AlertURL    string
	Timeout     time.Duration
}

// Dispatcher fans a finished decision out to its side effects.
type Dispatcher struct {
	cfg       Config
	client    *http.Client
	sink      AuditSink
	hub       *stream.Hub
	publisher *Publisher

	wg sync.WaitGroup
}

// New builds a dispatcher. sink, hub and publisher may each be nil.
func New(cfg Config, client *http.Client, sink AuditSink, hub *stream.Hub, publisher *Publisher) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{cfg: cfg, client: client, sink: sink, hub: hub, publisher: publisher}
}

// Dispatch schedules delivery and returns immediately.
func (d *Dispatcher) Dispatch(rec models.DecisionRecord, metadata map[string]any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		d.deliver(ctx, rec, metadata)
	}()
}

// Wait drains in-flight deliveries. Used on shutdown and in tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) {
	if rec.Verdict == fusion.VerdictBlock {
		d.triggerSoftLock(ctx, rec)
		d.sendAlert(ctx, rec, metadata)
		if d.sink != nil {
			if err := d.sink.RecordSecurityAlert(ctx, rec, metadata); err != nil {
				log.Printf("dispatch: security alert audit write failed for %s: %v", rec.DecisionID, err)
			}
		}
	}
	if d.sink != nil {
		if err := d.sink.RecordDecision(ctx, rec, metadata); err != nil {
			log.Printf("dispatch: audit write failed for %s: %v", rec.DecisionID, err)
		}
	}
	if d.hub != nil {
		d.hub.Publish(stream.NewEvent("decision", streamPayload(rec)))
	}
	if d.publisher != nil {
		if err := d.publisher.PublishDecision(ctx, rec); err != nil {
			log.Printf("dispatch: kafka publish failed for %s: %v", rec.DecisionID, err)
		}
	}
}

type softLockPayload struct {
	Action            string  `json:"action"`
	Reason            string  `json:"reason"`
	RiskScore         float64 `json:"risk_score"`
	VisionScore       float64 `json:"vision_score"`
	AcousticScore     float64 `json:"acoustic_score"`
	TransactionAmount float64 `json:"transaction_amount"`
}

// triggerSoftLock posts the account lock request. At-most-once: one
// attempt, no retries.
func (d *Dispatcher) triggerSoftLock(ctx context.Context, rec models.DecisionRecord) {
	if d.cfg.SoftLockURL == "" {
		return
	}
	risk := rec.AcousticScore
	if rec.VisionScore > risk {
		risk = rec.VisionScore
	}
	body, err := json.Marshal(softLockPayload{
		Action:            "soft_lock",
		Reason:            rec.Reasoning,
		RiskScore:         risk,
		VisionScore:       rec.VisionScore,
		AcousticScore:     rec.AcousticScore,
		TransactionAmount: rec.TransactionAmount,
	})
	if err != nil {
		return
	}
	status, _, err := httpx.RequestJSON(ctx, d.client, http.MethodPost, d.cfg.SoftLockURL, body, nil, 0, 0)
	if err != nil {
		log.Printf("dispatch: soft lock delivery failed: %v", err)
		return
	}
	if status != http.StatusOK {
		log.Printf("dispatch: soft lock rejected with status %d", status)
	}
}

type alertPayload struct {
	Decision          string         `json:"decision"`
	Reasoning         string         `json:"reasoning"`
	VisionScore       float64        `json:"vision_score"`
	AcousticScore     float64        `json:"acoustic_score"`
	TransactionAmount float64        `json:"transaction_amount"`
	Mismatches        []string       `json:"mismatches,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// sendAlert notifies the security webhook about a block. Metadata is
// anonymized before it leaves the service.
func (d *Dispatcher) sendAlert(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) {
	if d.cfg.AlertURL == "" {
		return
	}
	body, err := json.Marshal(alertPayload{
		Decision:          rec.Verdict,
		Reasoning:         rec.Reasoning,
		VisionScore:       rec.VisionScore,
		AcousticScore:     rec.AcousticScore,
		TransactionAmount: rec.TransactionAmount,
		Mismatches:        rec.Mismatches,
		Metadata:          audit.Anonymize(metadata),
		Timestamp:         rec.CreatedAt,
	})
	if err != nil {
		return
	}
	status, _, err := httpx.RequestJSON(ctx, d.client, http.MethodPost, d.cfg.AlertURL, body, nil, 0, 0)
	if err != nil {
		log.Printf("dispatch: alert delivery failed: %v", err)
		return
	}
	if status >= 300 {
		log.Printf("dispatch: alert rejected with status %d", status)
	}
}

func streamPayload(rec models.DecisionRecord) map[string]any {
	return map[string]any{
		"decision_id":        rec.DecisionID,
		"tenant":             rec.Tenant,
		"verdict":            rec.Verdict,
		"vision_score":       rec.VisionScore,
		"acoustic_score":     rec.AcousticScore,
		"transaction_amount": rec.TransactionAmount,
		"degraded":           rec.Degraded,
		"created_at":         rec.CreatedAt,
	}
}
