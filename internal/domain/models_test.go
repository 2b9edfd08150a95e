package domain

import (
	"reflect"
	"testing"
)

func TestInt64SliceValueScanRoundTrip(t *testing.T) {
	original := Int64Slice{101, 202, 303}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned Int64Slice
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !reflect.DeepEqual(scanned, original) {
		t.Errorf("got %v, want %v", scanned, original)
	}
}

func TestInt64SliceValueNil(t *testing.T) {
	var s Int64Slice
	val, err := s.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if val != "[]" {
		t.Errorf("got %v, want \"[]\"", val)
	}
}

func TestInt64SliceScanNil(t *testing.T) {
	s := Int64Slice{1, 2, 3}
	if err := s.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if s != nil {
		t.Errorf("got %v, want nil", s)
	}
}

func TestInt64SliceScanUnsupportedType(t *testing.T) {
	var s Int64Slice
	if err := s.Scan(42); err == nil {
		t.Error("expected error scanning an int, got nil")
	}
}

func TestOutboundCallingConfigValueScanRoundTrip(t *testing.T) {
	original := OutboundCallingConfig{
		Enabled:         true,
		WaitMinutes:     15,
		MaxRounds:       3,
		MessageTemplate: "A shift needs coverage, reply YES to accept",
	}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned OutboundCallingConfig
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if scanned != original {
		t.Errorf("got %+v, want %+v", scanned, original)
	}
}

func TestCallPhaseIsTerminal(t *testing.T) {
	terminal := []CallPhase{PhaseTransferred, PhaseCompleted, PhaseAbandoned}
	for _, p := range terminal {
		if !p.IsTerminal() {
			t.Errorf("%q: want terminal", p)
		}
	}

	nonTerminal := []CallPhase{
		PhaseGreeting, PhaseAuthByPhone, PhaseAuthByPin, PhaseProviderSelect,
		PhaseJobCode, PhaseConfirmJobCode, PhaseJobOptions, PhaseOccurrenceSelect,
		PhaseCollectDateTime, PhaseConfirmDateTime, PhaseCollectReason, PhaseConfirmRelease,
	}
	for _, p := range nonTerminal {
		if p.IsTerminal() {
			t.Errorf("%q: want non-terminal", p)
		}
	}
}
