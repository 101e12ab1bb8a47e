package models

import (
	"time"
)

// Liveness is the binary outcome of the face liveness collaborator.
type Liveness string

const (
	LivenessReal  Liveness = "Real"
	LivenessSpoof Liveness = "Spoof"
)

// Score maps a liveness outcome onto the normalized risk scale.
func (l Liveness) Score() float64 {
	if l == LivenessSpoof {
		return 1.0
	}
	return 0.0
}

// Signal sources.
const (
	SourceVision    = "vision"
	SourceAcoustic  = "acoustic"
	SourceReasoning = "reasoning"
)

// RiskSignal is one collaborator's contribution to a decision. Ephemeral,
// created per request, never persisted directly.
type RiskSignal struct {
	Source    string        `json:"source"`
	Value     float64       `json:"value"`
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
}

// CaptureSample carries only the payload size of a capture. Raw media is
// hashed immediately on ingest and never retained beyond the request scope.
type CaptureSample struct {
	PayloadSize int    `json:"payload_size"`
	Modality    string `json:"modality"`
}

// Capture modalities.
const (
	ModalityVideo = "video"
	ModalityAudio = "audio"
)

// DecisionRecord is the immutable outcome of one evaluation. Corrections
// require a new record.
type DecisionRecord struct {
	DecisionID        string       `json:"decision_id"`
	Tenant            string       `json:"tenant"`
	Verdict           string       `json:"verdict"`
	Reasoning         string       `json:"reasoning"`
	VisionScore       float64      `json:"vision_score"`
	AcousticScore     float64      `json:"acoustic_score"`
	TransactionAmount float64      `json:"transaction_amount"`
	Mismatches        []string     `json:"mismatches"`
	Signals           []RiskSignal `json:"signals,omitempty"`
	Degraded          bool         `json:"degraded"`
	CacheHit          bool         `json:"cache_hit"`
	CreatedAt         time.Time    `json:"created_at"`
}

// DecisionSummary is the list-endpoint projection of a stored decision.
type DecisionSummary struct {
	DecisionID        string    `json:"decision_id"`
	Tenant            string    `json:"tenant"`
	Verdict           string    `json:"verdict"`
	TransactionAmount float64   `json:"transaction_amount"`
	Degraded          bool      `json:"degraded"`
	CreatedAt         time.Time `json:"created_at"`
}

// AnalyzeRequest is the wire request for /v1/analyze.
type AnalyzeRequest struct {
	VideoB64          string         `json:"video_b64"`
	AudioB64          string         `json:"audio_b64"`
	Metadata          map[string]any `json:"metadata"`
	TransactionAmount float64        `json:"transaction_amount"`
	FirstCapture      *FirstCapture  `json:"first_capture,omitempty"`
	ValidationStep    string         `json:"validation_step,omitempty"`
}

// FirstCapture is an optional prior capture used for delta comparison.
// Only payload sizes are compared; content is never inspected.
type FirstCapture struct {
	Video string `json:"video"`
	Audio string `json:"audio"`
}

// AnalyzeResponse is the wire response for /v1/analyze. The decision field
// carries the caller-visible label, not the internal verdict.
type AnalyzeResponse struct {
	Decision          string   `json:"decision"`
	Reasoning         string   `json:"reasoning"`
	VisionScore       float64  `json:"vision_score"`
	AcousticScore     float64  `json:"acoustic_score"`
	TransactionAmount float64  `json:"transaction_amount"`
	Mismatches        []string `json:"mismatches"`
}

// Audit event types.
const (
	EventDecisionAllow = "decision_allow"
	EventDecisionBlock = "decision_block"
	EventSecurityAlert = "security_alert"
)

// Compliance levels attached to audit events.
const (
	ComplianceLow      = "low"
	ComplianceMedium   = "medium"
	ComplianceHigh     = "high"
	ComplianceCritical = "critical"
)

// AuditEvent is one append-only audit record. EventID is derived from
// timestamp, type and actor, so duplicate submissions dedupe by id.
type AuditEvent struct {
	EventID         string         `json:"event_id"`
	Tenant          string         `json:"tenant"`
	EventType       string         `json:"event_type"`
	ComplianceLevel string         `json:"compliance_level"`
	ActorIDHash     string         `json:"actor_id_hash,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
