// Package audit persists the append-only compliance trail and the decision
// history, and anonymizes metadata before it is stored or shipped.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/fusion"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer appends audit events and decision rows. Events are deduplicated by
// their derived id, so replays of the same submission are no-ops.
type Writer struct {
	DB       auditDB
	HashSalt []byte
}

// EventID derives the deterministic event id: the first 16 hex characters
// of sha256(timestamp + event type + actor).
func EventID(ts time.Time, eventType, actor string) string {
	if actor == "" {
		actor = "system"
	}
	sum := sha256.Sum256([]byte(ts.UTC().Format(time.RFC3339Nano) + eventType + actor))
	return hex.EncodeToString(sum[:])[:16]
}

// ActorHash salts and hashes an actor identifier for storage.
func (w *Writer) ActorHash(actor string) string {
	h := sha256.New()
	if len(w.HashSalt) > 0 {
		_, _ = h.Write(w.HashSalt)
	}
	_, _ = h.Write([]byte(actor))
	return hex.EncodeToString(h.Sum(nil))
}

// ComplianceLevel maps an event type onto its compliance tier.
func ComplianceLevel(eventType string) string {
	switch eventType {
	case models.EventSecurityAlert:
		return models.ComplianceCritical
	case models.EventDecisionBlock:
		return models.ComplianceHigh
	default:
		return models.ComplianceLow
	}
}

// Append writes one audit event. Duplicate ids are dropped silently.
func (w *Writer) Append(ctx context.Context, ev models.AuditEvent) error {
	details, err := json.Marshal(Anonymize(ev.Details))
	if err != nil {
		return err
	}
	_, err = w.DB.Exec(ctx, `
		INSERT INTO audit_events
		(event_id, tenant, event_type, compliance_level, actor_id_hash, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.Tenant, ev.EventType, ev.ComplianceLevel, ev.ActorIDHash, details, ev.CreatedAt)
	return err
}

// RecordDecision persists the decision row and its audit event.
func (w *Writer) RecordDecision(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) error {
	mismatches, err := json.Marshal(rec.Mismatches)
	if err != nil {
		return err
	}
	_, err = w.DB.Exec(ctx, `
		INSERT INTO decisions
		(decision_id, tenant, verdict, reasoning, vision_score, acoustic_score, transaction_amount, mismatches, degraded, cache_hit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (decision_id) DO NOTHING
	`, rec.DecisionID, rec.Tenant, rec.Verdict, rec.Reasoning, rec.VisionScore, rec.AcousticScore,
		rec.TransactionAmount, mismatches, rec.Degraded, rec.CacheHit, rec.CreatedAt)
	if err != nil {
		return err
	}

	eventType := models.EventDecisionAllow
	if rec.Verdict == fusion.VerdictBlock {
		eventType = models.EventDecisionBlock
	}
	details := map[string]any{
		"decision_id":        rec.DecisionID,
		"verdict":            rec.Verdict,
		"vision_score":       rec.VisionScore,
		"acoustic_score":     rec.AcousticScore,
		"transaction_amount": rec.TransactionAmount,
		"degraded":           rec.Degraded,
		"cache_hit":          rec.CacheHit,
	}
	for k, v := range Anonymize(metadata) {
		details["meta_"+k] = v
	}
	return w.Append(ctx, models.AuditEvent{
		EventID:         EventID(rec.CreatedAt, eventType, rec.Tenant),
		Tenant:          rec.Tenant,
		EventType:       eventType,
		ComplianceLevel: ComplianceLevel(eventType),
		ActorIDHash:     w.ActorHash(rec.Tenant),
		Details:         details,
		CreatedAt:       rec.CreatedAt,
	})
}

// RecordSecurityAlert appends the critical-level event raised alongside a
// blocked decision.
func (w *Writer) RecordSecurityAlert(ctx context.Context, rec models.DecisionRecord, metadata map[string]any) error {
	details := map[string]any{
		"decision_id":        rec.DecisionID,
		"reason":             rec.Reasoning,
		"vision_score":       rec.VisionScore,
		"acoustic_score":     rec.AcousticScore,
		"transaction_amount": rec.TransactionAmount,
	}
	for k, v := range Anonymize(metadata) {
		details["meta_"+k] = v
	}
	return w.Append(ctx, models.AuditEvent{
		EventID:         EventID(rec.CreatedAt, models.EventSecurityAlert, rec.Tenant),
		Tenant:          rec.Tenant,
		EventType:       models.EventSecurityAlert,
		ComplianceLevel: ComplianceLevel(models.EventSecurityAlert),
		ActorIDHash:     w.ActorHash(rec.Tenant),
		Details:         details,
		CreatedAt:       rec.CreatedAt,
	})
}

// RecentEvents returns the newest audit events, optionally scoped by tenant.
func (w *Writer) RecentEvents(ctx context.Context, tenant string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if tenant != "" {
		rows, err = w.DB.Query(ctx, `
			SELECT event_id, tenant, event_type, compliance_level, actor_id_hash, details, created_at
			FROM audit_events WHERE tenant=$1 ORDER BY created_at DESC LIMIT $2
		`, tenant, limit)
	} else {
		rows, err = w.DB.Query(ctx, `
			SELECT event_id, tenant, event_type, compliance_level, actor_id_hash, details, created_at
			FROM audit_events ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			ev  models.AuditEvent
			raw []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.Tenant, &ev.EventType, &ev.ComplianceLevel, &ev.ActorIDHash, &raw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListDecisions returns the newest decision summaries, optionally scoped by
// tenant.
func (w *Writer) ListDecisions(ctx context.Context, tenant string, limit int) ([]models.DecisionSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if tenant != "" {
		rows, err = w.DB.Query(ctx, `
			SELECT decision_id, tenant, verdict, transaction_amount, degraded, created_at
			FROM decisions WHERE tenant=$1 ORDER BY created_at DESC LIMIT $2
		`, tenant, limit)
	} else {
		rows, err = w.DB.Query(ctx, `
			SELECT decision_id, tenant, verdict, transaction_amount, degraded, created_at
			FROM decisions ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DecisionSummary
	for rows.Next() {
		var d models.DecisionSummary
		if err := rows.Scan(&d.DecisionID, &d.Tenant, &d.Verdict, &d.TransactionAmount, &d.Degraded, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDecision loads one stored decision.
func (w *Writer) GetDecision(ctx context.Context, decisionID string) (models.DecisionRecord, error) {
	var (
		rec models.DecisionRecord
		raw []byte
	)
	row := w.DB.QueryRow(ctx, `
		SELECT decision_id, tenant, verdict, reasoning, vision_score, acoustic_score, transaction_amount, mismatches, degraded, cache_hit, created_at
		FROM decisions WHERE decision_id=$1
	`, decisionID)
	if err := row.Scan(&rec.DecisionID, &rec.Tenant, &rec.Verdict, &rec.Reasoning, &rec.VisionScore,
		&rec.AcousticScore, &rec.TransactionAmount, &raw, &rec.Degraded, &rec.CacheHit, &rec.CreatedAt); err != nil {
		return rec, err
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Mismatches)
	}
	return rec, nil
}
