package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"

	"github.com/MrWong99/mirchi/pkg/audio/capture"
)

// keyboardUsage is the -keyboard flag help. Keyboard push-to-talk is a
// toggle, unlike the hold-to-talk pointer source of the control API.
const keyboardUsage = "toggle push-to-talk with Enter on stdin: Enter starts talking, Enter again stops (not hold-to-talk)"

// keyboardMode describes the keyboard source for the startup summary.
func keyboardMode(enabled bool) string {
	if enabled {
		return "toggle (Enter)"
	}
	return "off"
}

// gestureTarget is the push-to-talk half of control.Target.
type gestureTarget interface {
	Press(source string) error
	Release(source string) error
}

// readKeyboard toggles the keyboard push-to-talk source on every line read
// from r. Terminals deliver input line by line, so a key hold is emulated as
// Enter to talk and Enter again to stop. A failed press still counts as held,
// matching the trigger. Reaching EOF or cancelling ctx releases the source.
func readKeyboard(ctx context.Context, r io.Reader, target gestureTarget) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	held := false
	defer func() {
		if held {
			_ = target.Release(capture.SourceKeyboard)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			var err error
			if held {
				err = target.Release(capture.SourceKeyboard)
			} else {
				err = target.Press(capture.SourceKeyboard)
			}
			held = !held
			if err != nil {
				slog.Warn("keyboard: push-to-talk", "err", err)
				continue
			}
			slog.Info("keyboard: push-to-talk", "held", held)
		}
	}
}
