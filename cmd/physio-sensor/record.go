package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/physio-sensor/internal/config"
	"github.com/sweeney/physio-sensor/internal/recorder"
	"github.com/sweeney/physio-sensor/internal/session"
)

func (a *app) newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a labelled question session to EDF",
		Long: `Record a question session. After a baseline trial each question is
marked 'q' until the operator presses the answer key (for example t or l),
which is stamped into the Marker signal for the rest of the trial.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("session")
			return record(cmd.Context(), a.cfg, id, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("session", "", "session ID (prompted when empty)")
	f.String("dir", "", `output directory (default "recordings")`)
	f.Int("questions", 0, "number of questions (default 20)")
	f.Duration("trial", 0, "baseline and per-question trial length (default 30s)")
	bindFlags(a.v, f, map[string]string{
		"dir":       "record.dir",
		"questions": "record.questions",
		"trial":     "record.trial",
	})
	return cmd
}

func record(ctx context.Context, cfg *config.Config, sessionID string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, interrupt := context.WithCancel(ctx)
	defer interrupt()
	keys, closeKeys := openKeys(in, out, interrupt)
	defer closeKeys()
	if keys.raw() {
		out = crlfWriter{out}
	}

	if sessionID == "" {
		fmt.Fprint(out, "Session ID: ")
		line, err := keys.line(ctx)
		if err != nil {
			return fmt.Errorf("read session id: %w", err)
		}
		sessionID = strings.TrimSpace(line)
		if sessionID == "" {
			return fmt.Errorf("empty session id")
		}
	}

	rec, err := recorder.Create(cfg.Record.Dir, recorder.Info{
		SessionID:    sessionID,
		SamplingRate: cfg.Device.SamplingRate,
		Start:        time.Now(),
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	sess, err := session.New(cfg.Session(), dialerFor(cfg.Device.Kind), session.WithTap(rec.Tap))
	if err == nil {
		err = sess.Connect(ctx)
	}
	if err != nil {
		discardRecording(rec)
		return err
	}
	defer sess.Stop()

	if err := sess.StartRecording(); err != nil {
		sess.Stop()
		discardRecording(rec)
		return err
	}
	fmt.Fprintf(out, "Start session acquisition\n\n")

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-pctx.Done():
		}
	}()

	p := protocol{
		trial:      cfg.Record.Trial,
		answerHold: cfg.Record.AnswerHold,
		questions:  cfg.Record.Questions,
	}
	perr := p.run(pctx, rec, keys, out, sleepCtx)
	closeKeys()

	if err := sess.Stop(); err != nil {
		log.Printf("record: stop: %v", err)
	}
	if err := rec.Close(); err != nil {
		return fmt.Errorf("close recording: %w", err)
	}

	fmt.Fprintf(out, "Ending session: %d records written to %s", rec.Records(), rec.Path())
	if n := rec.Dropped(); n > 0 {
		fmt.Fprintf(out, " (%d blocks dropped)", n)
	}
	fmt.Fprintln(out)

	if lerr := sess.Err(); lerr != nil {
		return fmt.Errorf("acquisition: %w", lerr)
	}
	return perr
}

// discardRecording closes and removes a recording that never started.
func discardRecording(rec *recorder.Recorder) {
	rec.Close()
	if err := os.Remove(rec.Path()); err != nil {
		log.Printf("record: remove %s: %v", rec.Path(), err)
	}
}

// marker receives the label stamped into each recorded sample.
type marker interface {
	SetMarker(m byte)
}

// protocol is the question session: a baseline trial, then per question a
// 'q' marker until the answer key arrives, which stays stamped for the
// answer hold plus one trial.
type protocol struct {
	trial      time.Duration
	answerHold time.Duration
	questions  int
}

func (p protocol) run(ctx context.Context, m marker, keys keySource, out io.Writer, wait func(context.Context, time.Duration) error) error {
	m.SetMarker(recorder.MarkerBaseline)
	if err := wait(ctx, p.trial); err != nil {
		return err
	}

	for q := 1; q <= p.questions; q++ {
		m.SetMarker(recorder.MarkerQuestion)
		fmt.Fprintf(out, "Question %d!\nWaiting response...\n", q)

		key, err := keys.key(ctx)
		if err != nil {
			return fmt.Errorf("question %d: %w", q, err)
		}
		fmt.Fprintf(out, "Answer : %c\n\n", key)
		m.SetMarker(key)

		if err := wait(ctx, p.answerHold+p.trial); err != nil {
			return err
		}
	}

	m.SetMarker(recorder.MarkerQuestion)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ marker = (*recorder.Recorder)(nil)
