package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/eiannone/keyboard"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/assistant"
)

const keyHelp = "keys: [space] talk/stop  [s] stop reply  [c] calibrate  [i] status  [q] quit"

// keys reads single key presses from the terminal.
type keys struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// listenKeys puts the terminal in raw mode and dispatches shortcuts to a
// until ctx is done. quit is called for q, Esc and Ctrl+C because raw mode
// swallows SIGINT.
func listenKeys(ctx context.Context, a *app.App, quit func()) (*keys, error) {
	events, err := keyboard.GetKeys(8)
	if err != nil {
		return nil, fmt.Errorf("keyboard: %w", err)
	}
	fmt.Fprintln(os.Stderr, keyHelp)

	ctx, cancel := context.WithCancel(ctx)
	k := &keys{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(k.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Err != nil {
					slog.Warn("keyboard read failed", "err", ev.Err)
					return
				}
				if !handleKey(ctx, a, ev) {
					quit()
					return
				}
			}
		}
	}()
	return k, nil
}

// handleKey runs the shortcut for ev. It returns false when the user asked
// to quit.
func handleKey(ctx context.Context, a *app.App, ev keyboard.KeyEvent) bool {
	switch {
	case ev.Key == keyboard.KeyCtrlC || ev.Key == keyboard.KeyEsc || ev.Rune == 'q':
		return false
	case ev.Key == keyboard.KeySpace:
		call(ctx, a, "toggle recording", (*assistant.Assistant).ToggleManual)
	case ev.Rune == 's':
		call(ctx, a, "stop playback", (*assistant.Assistant).StopPlayback)
	case ev.Rune == 'c':
		go func() {
			slog.Info("calibrating, stay quiet")
			if err := a.Calibrate(ctx); err != nil {
				slog.Warn("calibration failed", "err", err)
			}
		}()
	case ev.Rune == 'i':
		st, err := a.Status(ctx)
		if err != nil {
			slog.Warn("status unavailable", "err", err)
			break
		}
		slog.Info("status",
			"listening", st.Listening,
			"speaking", st.Speaking,
			"recorder", st.Recorder.String(),
			"playing", st.Playing,
			"queue", st.Queue.String(),
			"pending", st.Pending,
			"interrupted", st.Interrupted,
			"volume", st.Volume,
			"threshold", st.Threshold,
		)
	}
	return true
}

func call(ctx context.Context, a *app.App, what string, fn func(*assistant.Assistant)) {
	if err := a.Call(ctx, fn); err != nil {
		slog.Warn("shortcut failed", "action", what, "err", err)
	}
}

// Close restores the terminal.
func (k *keys) Close() {
	k.cancel()
	_ = keyboard.Close()
	<-k.done
}
