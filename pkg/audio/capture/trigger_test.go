package capture_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/mirchi/pkg/audio/capture"
)

func TestTrigger_MergesSources(t *testing.T) {
	t.Parallel()

	var edges []string
	tr := capture.NewTrigger(
		func() error { edges = append(edges, "down"); return nil },
		func() error { edges = append(edges, "up"); return nil },
	)

	steps := []struct {
		press  bool
		source string
	}{
		{true, capture.SourceKeyboard},
		{true, capture.SourceKeyboard}, // auto-repeat
		{true, capture.SourcePointer},
		{false, capture.SourceKeyboard},
		{false, "unknown"},
		{false, capture.SourcePointer},
		{false, capture.SourcePointer},
		{true, capture.SourcePointer},
		{false, capture.SourcePointer},
	}
	for _, s := range steps {
		var err error
		if s.press {
			err = tr.Press(s.source)
		} else {
			err = tr.Release(s.source)
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if want := []string{"down", "up", "down", "up"}; !slices.Equal(edges, want) {
		t.Errorf("edges = %v, want %v", edges, want)
	}
}

func TestTrigger_ReturnsCallbackErrors(t *testing.T) {
	t.Parallel()

	errDown := errors.New("mic busy")
	tr := capture.NewTrigger(func() error { return errDown }, nil)

	if err := tr.Press(capture.SourcePointer); !errors.Is(err, errDown) {
		t.Errorf("Press error = %v, want %v", err, errDown)
	}
	if held := tr.Held(); !slices.Equal(held, []string{capture.SourcePointer}) {
		t.Errorf("held = %v, source must stay held after a failed down", held)
	}
	if err := tr.Release(capture.SourcePointer); err != nil {
		t.Errorf("Release with nil onUp = %v", err)
	}
}

func TestTrigger_Reset(t *testing.T) {
	t.Parallel()

	ups := 0
	tr := capture.NewTrigger(nil, func() error { ups++; return nil })
	_ = tr.Press(capture.SourceKeyboard)
	_ = tr.Press(capture.SourcePointer)
	tr.Reset()

	if len(tr.Held()) != 0 {
		t.Error("sources still held after Reset")
	}
	if ups != 0 {
		t.Error("Reset fired onUp")
	}
	_ = tr.Release(capture.SourceKeyboard)
	if ups != 0 {
		t.Error("release after Reset fired onUp")
	}
}
