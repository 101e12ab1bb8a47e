package fusion

import (
	"strings"
	"testing"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

func TestFallbackDecideSpoofAlwaysBlocks(t *testing.T) {
	verdict, reason := FallbackDecide(models.LivenessSpoof, 0.1, 50)
	if verdict != VerdictBlock {
		t.Fatalf("expected BLOCK, got %s", verdict)
	}
	if !strings.Contains(strings.ToLower(reason), "spoof") {
		t.Fatalf("reason should mention spoofing: %q", reason)
	}
}

func TestFallbackDecideHighAcoustic(t *testing.T) {
	verdict, reason := FallbackDecide(models.LivenessReal, 0.8, 100)
	if verdict != VerdictBlock {
		t.Fatalf("expected BLOCK, got %s", verdict)
	}
	if !strings.Contains(strings.ToLower(reason), "voice") {
		t.Fatalf("reason should mention voice risk: %q", reason)
	}
}

func TestFallbackDecideHighValue(t *testing.T) {
	verdict, _ := FallbackDecide(models.LivenessReal, 0.3, 20000)
	if verdict != VerdictBlock {
		t.Fatalf("expected BLOCK for high-value with non-trivial risk, got %s", verdict)
	}
	// Trivial acoustic risk does not trip the high-value rule on its own.
	verdict, _ = FallbackDecide(models.LivenessReal, 0.05, 20000)
	if verdict != VerdictAllow {
		t.Fatalf("expected ALLOW for high-value with trivial risk, got %s", verdict)
	}
}

func TestFallbackDecideAllow(t *testing.T) {
	verdict, _ := FallbackDecide(models.LivenessReal, 0.2, 500)
	if verdict != VerdictAllow {
		t.Fatalf("expected ALLOW, got %s", verdict)
	}
}

func TestFallbackDecidePrecedence(t *testing.T) {
	// Spoof wins over every other rule.
	verdict, reason := FallbackDecide(models.LivenessSpoof, 0.9, 50000)
	if verdict != VerdictBlock || !strings.Contains(strings.ToLower(reason), "spoof") {
		t.Fatalf("spoof rule should win: %s %q", verdict, reason)
	}
	// Acoustic wins over high-value.
	_, reason = FallbackDecide(models.LivenessReal, 0.9, 50000)
	if !strings.Contains(strings.ToLower(reason), "voice") {
		t.Fatalf("acoustic rule should win over amount: %q", reason)
	}
}

func TestCompareCapturesFlagsVideoDelta(t *testing.T) {
	prior := []models.CaptureSample{
		{Modality: models.ModalityVideo, PayloadSize: 1000},
		{Modality: models.ModalityAudio, PayloadSize: 1000},
	}
	current := []models.CaptureSample{
		{Modality: models.ModalityVideo, PayloadSize: 1600},
		{Modality: models.ModalityAudio, PayloadSize: 1100},
	}
	cmp := CompareCaptures(prior, current)
	if !cmp.Mismatch {
		t.Fatal("expected mismatch for >500 byte video delta")
	}
	if len(cmp.Notes) != 1 {
		t.Fatalf("expected one note, got %v", cmp.Notes)
	}
	if !strings.Contains(cmp.Notes[0], "Video") {
		t.Fatalf("note should name the video modality: %q", cmp.Notes[0])
	}
	if !strings.Contains(cmp.Notes[0], "60%") {
		t.Fatalf("note should carry the relative delta: %q", cmp.Notes[0])
	}
}

func TestCompareCapturesNoDelta(t *testing.T) {
	samples := []models.CaptureSample{
		{Modality: models.ModalityVideo, PayloadSize: 1000},
		{Modality: models.ModalityAudio, PayloadSize: 1000},
	}
	cmp := CompareCaptures(samples, samples)
	if cmp.Mismatch {
		t.Fatal("identical captures must not mismatch")
	}
	if len(cmp.Notes) != 1 || !strings.Contains(cmp.Notes[0], "No significant") {
		t.Fatalf("expected the no-difference note, got %v", cmp.Notes)
	}
}

func TestTightenMismatchWithRisk(t *testing.T) {
	verdict, escalation := Tighten(Config{}, VerdictAllow, Inputs{
		Liveness:        models.LivenessReal,
		AcousticRisk:    0.5,
		Amount:          200,
		CaptureMismatch: true,
	})
	if verdict != VerdictBlock {
		t.Fatalf("expected escalation to BLOCK, got %s", verdict)
	}
	if escalation == "" {
		t.Fatal("expected an escalation reason")
	}
}

func TestTightenMismatchWithoutRiskKeepsAllow(t *testing.T) {
	verdict, escalation := Tighten(Config{}, VerdictAllow, Inputs{
		Liveness:        models.LivenessReal,
		AcousticRisk:    0.2,
		Amount:          200,
		CaptureMismatch: true,
	})
	if verdict != VerdictAllow || escalation != "" {
		t.Fatalf("mismatch alone must not escalate: %s %q", verdict, escalation)
	}
}

func TestTightenNeverDowngrades(t *testing.T) {
	verdict, _ := Tighten(Config{}, VerdictBlock, Inputs{
		Liveness:     models.LivenessReal,
		AcousticRisk: 0.0,
		Amount:       1,
	})
	if verdict != VerdictBlock {
		t.Fatalf("tightening downgraded a BLOCK to %s", verdict)
	}
}

func TestTightenHighAcousticForcesBlock(t *testing.T) {
	verdict, _ := Tighten(Config{}, VerdictAllow, Inputs{
		Liveness:     models.LivenessReal,
		AcousticRisk: 0.71,
		Amount:       10,
	})
	if verdict != VerdictBlock {
		t.Fatalf("expected BLOCK for acoustic > 0.7, got %s", verdict)
	}
}

func TestTightenSpoofForcesBlock(t *testing.T) {
	verdict, _ := Tighten(Config{}, VerdictAllow, Inputs{
		Liveness: models.LivenessSpoof,
	})
	if verdict != VerdictBlock {
		t.Fatalf("expected BLOCK for spoof, got %s", verdict)
	}
}

func TestTightenDegradedNoAllow(t *testing.T) {
	verdict, _ := Tighten(Config{DegradedNoAllow: true}, VerdictAllow, Inputs{
		Liveness: models.LivenessReal,
		Degraded: true,
	})
	if verdict != VerdictBlock {
		t.Fatalf("conservative mode should block degraded runs, got %s", verdict)
	}
	verdict, _ = Tighten(Config{}, VerdictAllow, Inputs{
		Liveness: models.LivenessReal,
		Degraded: true,
	})
	if verdict != VerdictAllow {
		t.Fatalf("default mode keeps the fail-safe ALLOW, got %s", verdict)
	}
}

func TestLabelMappingIsTotal(t *testing.T) {
	if Label(VerdictAllow) != LabelAuthorized {
		t.Fatal("ALLOW must map to authorized")
	}
	if Label(VerdictBlock) != LabelNotAuthorized {
		t.Fatal("BLOCK must map to not authorized")
	}
	if Label("garbage") != LabelNotAuthorized {
		t.Fatal("unknown verdicts must fail closed")
	}
}
