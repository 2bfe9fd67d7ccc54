// Command voicectl drives a turn controller from a transcript script against
// a running dialogue service and prints the conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"yuzu/interview/internal/channel"
	"yuzu/interview/internal/config"
	"yuzu/interview/internal/debug"
	"yuzu/interview/internal/logging"
	"yuzu/interview/internal/speech"
	"yuzu/interview/internal/turn"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.Server.LogLevel)
	if err := cfg.Turn.Validate(); err != nil {
		logger.Error("invalid turn configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, logger, os.Stdout); err != nil {
		logger.Error("voicectl failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, out io.Writer) error {
	steps, err := loadScript(cfg.Client.Script)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := channel.CreateSession(ctx, nil, cfg.Client.ServerURL)
	if err != nil {
		return err
	}
	logger.Info("session created", "session_id", sess.ID)

	client, err := channel.Dial(ctx, channel.WebSocketURL(cfg.Client.ServerURL, sess.WSURL), sess.Token, channel.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	src := speech.NewScriptSource(steps, speech.WithLogger(logger))
	store := turn.NewConfigStore(cfg.Turn)
	ctl := turn.New(src, client, turn.WithConfigStore(store), turn.WithLogger(logger))
	defer ctl.Close()
	src.SetHandler(ctl)
	client.OnSendError(ctl.SubmitFailed)

	rec := debug.NewRecorder(debug.DefaultCapacity)
	ctl.Subscribe(rec.Observe)
	ctl.Subscribe(printer(out))

	if cfg.Client.DebugAddr != "" {
		dsrv := &http.Server{
			Addr:              cfg.Client.DebugAddr,
			Handler:           debug.NewHandler(store, rec, ctl.State),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := dsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server", "err", err)
			}
		}()
		defer dsrv.Close()
		logger.Info("debug server listening", "addr", cfg.Client.DebugAddr)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- client.Run(ctx, ctl.HandleInbound) }()

	ctl.Start()
	return waitSettled(ctx, src, ctl, readErr)
}

// waitSettled returns once the script is spent and no reply is pending.
func waitSettled(ctx context.Context, src *speech.ScriptSource, ctl *turn.Controller, readErr <-chan error) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	idleSince := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return err
			}
			return errors.New("voicectl: service closed the connection")
		case <-tick.C:
		}
		st := ctl.State()
		settled := src.Exhausted() && st.Active == nil && st.Buffer.Empty()
		if !settled {
			idleSince = time.Time{}
			continue
		}
		if idleSince.IsZero() {
			idleSince = time.Now()
		}
		if time.Since(idleSince) >= ctl.Config().Silence() {
			return nil
		}
	}
}

func loadScript(path string) ([]speech.Step, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("voicectl: open script: %w", err)
		}
		defer f.Close()
		r = f
	}
	return speech.ParseScript(r)
}

func printer(out io.Writer) turn.Observer {
	return func(n turn.Notice) {
		switch n.Kind {
		case turn.NoticeTurnOpened:
			fmt.Fprintf(out, "you (%s): %s\nai: ", n.Reason, n.Turn.Text)
		case turn.NoticeToken:
			fmt.Fprint(out, n.Token)
		case turn.NoticeTurnClosed:
			fmt.Fprintf(out, "  [%s]\n", n.Turn.Status)
		case turn.NoticeUtteranceRejected:
			fmt.Fprintf(out, "(ignored %q)\n", n.Text)
		case turn.NoticeError:
			fmt.Fprintf(out, "(error %s: %s)\n", n.Code, n.Message)
		}
	}
}
