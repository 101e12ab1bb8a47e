// Package fusion holds the deterministic decision policy: the fallback
// decision table and the escalation-only tightening pass. Pure functions,
// no I/O, so every verdict is reproducible from its inputs.
package fusion

import (
	"fmt"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

const (
	VerdictAllow = "ALLOW"
	VerdictBlock = "BLOCK"
)

// Caller-visible labels. The internal verdict never leaves the service raw.
const (
	LabelAuthorized    = "authorized"
	LabelNotAuthorized = "not authorized"
)

// Policy thresholds.
const (
	AcousticBlockThreshold   = 0.7
	AcousticTightenThreshold = 0.45
	NonTrivialAcousticRisk   = 0.1
	HighValueAmount          = 10000.0
	TightenAmount            = 5000.0
	CaptureDeltaBytes        = 500
)

// Config tunes the tightening behavior.
type Config struct {
	// DegradedNoAllow forces BLOCK whenever any signal leg ran on a
	// fallback value. Off by default: the reference fail-safe substitutes
	// Real/0.3 and relies on tightening.
	DegradedNoAllow bool
}

// Inputs to the tightening pass.
type Inputs struct {
	Liveness        models.Liveness
	AcousticRisk    float64
	Amount          float64
	CaptureMismatch bool
	Degraded        bool
}

// FallbackDecide is the deterministic decision table. It is both the local
// policy applied when the reasoning collaborator is unavailable and the
// baseline the collaborator is expected to refine. First matching rule wins.
func FallbackDecide(liveness models.Liveness, acousticRisk, amount float64) (string, string) {
	if liveness == models.LivenessSpoof {
		return VerdictBlock, "Face liveness check failed - spoofing detected. Transaction blocked."
	}
	if acousticRisk > AcousticBlockThreshold {
		return VerdictBlock, fmt.Sprintf("High voice synthesis risk (%.0f%%). Possible voice cloning detected.", acousticRisk*100)
	}
	if amount > HighValueAmount && acousticRisk > NonTrivialAcousticRisk {
		return VerdictBlock, fmt.Sprintf("High-value transaction ($%.2f) with voice risk score %.0f%%. Blocked for security.", amount, acousticRisk*100)
	}
	return VerdictAllow, fmt.Sprintf("Face liveness verified, voice analysis shows %.0f%% risk. Transaction appears legitimate.", acousticRisk*100)
}

// CaptureComparison is the outcome of comparing a current capture pair
// against the first capture of the session.
type CaptureComparison struct {
	Notes    []string
	Mismatch bool
}

// CompareCaptures flags payload-size deltas above the absolute byte
// threshold per modality. Percentages are relative to the prior sample.
func CompareCaptures(prior, current []models.CaptureSample) CaptureComparison {
	var out CaptureComparison
	byModality := func(samples []models.CaptureSample, modality string) (models.CaptureSample, bool) {
		for _, s := range samples {
			if s.Modality == modality {
				return s, true
			}
		}
		return models.CaptureSample{}, false
	}
	for _, modality := range []string{models.ModalityVideo, models.ModalityAudio} {
		p, okP := byModality(prior, modality)
		c, okC := byModality(current, modality)
		if !okP || !okC {
			continue
		}
		delta := c.PayloadSize - p.PayloadSize
		if delta < 0 {
			delta = -delta
		}
		if delta > CaptureDeltaBytes {
			out.Mismatch = true
			out.Notes = append(out.Notes, fmt.Sprintf(
				"%s payload size differs by ~%d%% compared to first capture.",
				capitalize(modality), pct(delta, p.PayloadSize)))
		}
	}
	if len(out.Notes) == 0 {
		out.Notes = append(out.Notes, "No significant payload differences detected between captures.")
	}
	return out
}

// Tighten escalates a verdict based on capture-mismatch heuristics. It can
// only move ALLOW to BLOCK, never the reverse. The returned reason is empty
// when no escalation fired.
func Tighten(cfg Config, verdict string, in Inputs) (string, string) {
	escalation := ""
	if in.Liveness == models.LivenessSpoof && verdict != VerdictBlock {
		verdict = VerdictBlock
		escalation = "Face liveness failed; spoof indicators present."
	}
	if in.CaptureMismatch && verdict != VerdictBlock {
		if in.AcousticRisk > AcousticTightenThreshold || in.Amount > TightenAmount {
			verdict = VerdictBlock
			escalation = "Capture mismatch combined with risk score triggers block."
		}
	}
	if in.AcousticRisk > AcousticBlockThreshold && verdict != VerdictBlock {
		verdict = VerdictBlock
		escalation = "High voice synthesis risk over threshold."
	}
	if cfg.DegradedNoAllow && in.Degraded && verdict != VerdictBlock {
		verdict = VerdictBlock
		escalation = "Signal acquisition degraded; conservative mode blocks."
	}
	return verdict, escalation
}

// Label maps the internal verdict to the caller-visible decision label.
// The mapping is total; anything unrecognized fails closed.
func Label(verdict string) string {
	switch verdict {
	case VerdictAllow:
		return LabelAuthorized
	case VerdictBlock:
		return LabelNotAuthorized
	default:
		// Fail closed on unknown verdicts rather than defaulting open.
		return LabelNotAuthorized
	}
}

func pct(delta, base int) int {
	if base == 0 {
		return 0
	}
	return int(float64(delta)/float64(base)*100 + 0.5)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
