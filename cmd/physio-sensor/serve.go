package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/physio-sensor/internal/capture"
	"github.com/sweeney/physio-sensor/internal/classify"
	"github.com/sweeney/physio-sensor/internal/config"
	"github.com/sweeney/physio-sensor/internal/display"
	"github.com/sweeney/physio-sensor/internal/gpio"
	"github.com/sweeney/physio-sensor/internal/logic"
	"github.com/sweeney/physio-sensor/internal/mqtt"
	"github.com/sweeney/physio-sensor/internal/session"
	"github.com/sweeney/physio-sensor/internal/status"
	"github.com/sweeney/physio-sensor/internal/web"
)

// errSessionEnded is returned by the run loop when acquisition stops on its own.
var errSessionEnded = errors.New("session ended")

// shutdownTimeout bounds how long in-flight HTTP requests may drain.
const shutdownTimeout = 5 * time.Second

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the acquisition daemon",
		Long: `Connect to the device, start recording and serve live signals and
decisions over HTTP. Decisions can be requested from the web page, with
POST /decision, or with the GPIO detect button.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}

	f := cmd.Flags()
	f.String("http", "", `HTTP listen address (default ":8080", empty disables)`)
	f.String("broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	f.String("model", "", "classifier model file")
	f.Bool("gpio", false, "enable the detect button and indicator lamps")
	bindFlags(a.v, f, map[string]string{
		"http":   "http.addr",
		"broker": "mqtt.broker",
		"model":  "model.path",
		"gpio":   "gpio.enabled",
	})
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	models := &classify.Holder{}
	if cfg.Model.Path != "" {
		m, err := classify.Load(cfg.Model.Path)
		if err != nil {
			// Decisions answer "no model" until a valid file appears.
			log.Printf("model: %v", err)
		} else {
			models.Set(m, m.Name)
			log.Printf("model: loaded %s (%d weights)", m.Name, len(m.Weights))
		}
		if cfg.Model.Watch {
			go func() {
				if err := classify.Watch(ctx, cfg.Model.Path, models); err != nil {
					log.Printf("model: watch disabled: %v", err)
				}
			}()
		}
	}

	sess, err := session.New(cfg.Session(), dialerFor(cfg.Device.Kind), session.WithModels(models))
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Stop()
	if err := sess.StartRecording(); err != nil {
		return err
	}
	scfg := sess.Config()

	var publisher mqtt.Publisher = noPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Device:         scfg.Address,
		SamplingRate:   scfg.SamplingRate,
		HistorySeconds: scfg.HistorySeconds,
		WindowSeconds:  scfg.WindowSeconds,
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
		GPIOEnabled:    cfg.GPIO.Enabled,
	})

	d := newDaemon(sess, publisher, mqttStatus, tracker, cfg, time.Now)

	if cfg.GPIO.Enabled {
		button, err := gpio.NewRealButton(cfg.GPIO.Chip, cfg.GPIO.PinButton)
		if err != nil {
			return fmt.Errorf("init gpio button: %w", err)
		}
		defer button.Close()
		indicator, err := gpio.NewRealIndicator(cfg.GPIO.Chip, cfg.GPIO.PinTruth, cfg.GPIO.PinLie)
		if err != nil {
			return fmt.Errorf("init gpio indicator: %w", err)
		}
		defer indicator.Close()
		d.button, d.indicator = button, indicator
	}

	startup := mqtt.SystemEvent{
		Timestamp:    time.Now(),
		Event:        mqtt.EventStartup,
		Device:       scfg.Address,
		SamplingRate: scfg.SamplingRate,
		Model:        models.Name(),
		Retained:     true,
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	var httpSrv shutdowner
	if cfg.HTTP.Addr != "" {
		renderer := display.NewRenderer(sess.Buffers(), time.Duration(scfg.HistorySeconds)*time.Second)
		srv := web.New(cfg.HTTP.Addr, tracker, renderer, d)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		httpSrv = srv
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	poll := cfg.GPIO.Poll
	if poll <= 0 {
		// status refresh still needs a tick without GPIO
		poll = 100 * time.Millisecond
	}
	log.Printf("started: device=%s rate=%d poll=%v debounce=%v broker=%s heartbeat=%v",
		scfg.Address, scfg.SamplingRate, poll, cfg.GPIO.Debounce, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	err = d.runLoop(ctx, ticker.C, sigCh)
	d.shutdown(httpSrv, shutdownTimeout)
	return err
}

// daemon owns the detector and lamp state. Only runLoop touches them;
// decisions finished on other goroutines are handed over on results.
type daemon struct {
	sess       *session.Session
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	button     gpio.Button    // nil when GPIO is disabled
	indicator  gpio.Indicator // nil when GPIO is disabled
	heartbeat  time.Duration
	now        func() time.Time

	detector  *logic.Detector
	lamp      *logic.IndicatorTimer
	lastModel string

	results chan session.Decision
	done    chan struct{}
}

func newDaemon(sess *session.Session, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, cfg *config.Config, now func() time.Time) *daemon {
	start := now()
	return &daemon{
		sess:       sess,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  cfg.MQTT.Heartbeat,
		now:        now,
		detector:   logic.NewDetector(cfg.GPIO.Debounce, start),
		lamp:       logic.NewIndicatorTimer(cfg.Indicator.Hold),
		lastModel:  sess.Models().Name(),
		results:    make(chan session.Decision, 1),
		done:       make(chan struct{}),
	}
}

// Decide captures and classifies one window. It serves both the HTTP
// endpoint and the detect button.
func (d *daemon) Decide(ctx context.Context) (session.Decision, error) {
	d.tracker.SetPending(true)
	dec, err := d.sess.RequestDecision(ctx)
	if err != nil {
		if !errors.Is(err, capture.ErrConflict) {
			d.tracker.SetPending(false)
		}
		return dec, err
	}
	d.tracker.SetDecision(dec)

	select {
	case d.results <- dec:
	case <-d.done:
	}
	return dec, nil
}

func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	defer close(d.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.publishSystem(mqtt.EventShutdown, signalName)
			return nil

		case <-ctx.Done():
			d.publishSystem(mqtt.EventShutdown, "CANCELLED")
			return nil

		case <-d.sess.Done():
			err := d.sess.Err()
			reason := "stopped"
			if err != nil {
				reason = err.Error()
			}
			log.Printf("session ended: %s", reason)
			d.refreshStatus()
			d.publishSystem(mqtt.EventSessionEnded, reason)
			if err != nil {
				return fmt.Errorf("%w: %w", errSessionEnded, err)
			}
			return errSessionEnded

		case dec := <-d.results:
			d.handleDecision(dec)

		case <-tick:
			t := d.now()

			if d.button != nil {
				pressed, err := d.button.Pressed()
				if err != nil {
					log.Printf("gpio read error: %v", err)
				} else if ev := d.detector.Process(logic.Input{Pressed: pressed, Time: t}); ev != nil && ev.Type == logic.EventPress {
					log.Printf("button: press, requesting decision")
					go d.trigger(ctx)
				}
			}

			if lamp, changed := d.lamp.Update(t); changed {
				d.setLamp(lamp)
			}

			if name := d.sess.Models().Name(); name != d.lastModel {
				d.lastModel = name
				if name != "" {
					d.publishSystem(mqtt.EventModelLoaded, "")
				}
			}

			if hb := d.detector.CheckHeartbeat(t, d.heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v presses=%d truth=%d lie=%d",
					hb.Uptime, hb.Counts.Presses, hb.Counts.Truth, hb.Counts.Lie)
				d.refreshStatus()
				d.publishSystem(mqtt.EventHeartbeat, "")
			}

			d.refreshStatus()
		}
	}
}

// shutdown stops the session before draining HTTP. Stopping cancels an armed
// capture, so a POST /decision waiting on it returns instead of holding
// Shutdown open for the rest of the window.
func (d *daemon) shutdown(srv shutdowner, timeout time.Duration) {
	if err := d.sess.Stop(); err != nil {
		log.Printf("session stop: %v", err)
	}
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

func (d *daemon) trigger(ctx context.Context) {
	if _, err := d.Decide(ctx); err != nil {
		log.Printf("decision failed: %v", err)
	}
}

func (d *daemon) handleDecision(dec session.Decision) {
	lie := dec.Label == classify.Lie
	log.Printf("decision: %s %s (model=%s)", dec.ID, dec.Label, dec.Model)

	d.detector.RecordDecision(lie)
	d.setLamp(d.lamp.Show(lie, d.now()))

	if err := d.publisher.PublishDecision(dec); err != nil {
		log.Printf("publish error: %v", err)
	}
}

func (d *daemon) setLamp(l logic.Lamp) {
	d.tracker.SetLamp(l)
	if d.indicator == nil {
		return
	}
	if err := d.indicator.Set(l == logic.LampTruth, l == logic.LampLie); err != nil {
		log.Printf("indicator error: %v", err)
	}
}

// refreshStatus copies loop-owned state into the tracker for HTTP readers.
func (d *daemon) refreshStatus() {
	d.tracker.UpdateSession(d.sess.Stats())
	d.tracker.UpdateButton(d.detector.CurrentState(), d.detector.Counts())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishSystem(name, reason string) {
	t := d.now()
	counts := d.detector.Counts()
	scfg := d.sess.Config()
	event := mqtt.SystemEvent{
		Timestamp:    t,
		Event:        name,
		Reason:       reason,
		Device:       scfg.Address,
		SamplingRate: scfg.SamplingRate,
		Model:        d.sess.Models().Name(),
		Uptime:       t.Sub(d.tracker.Snapshot().StartTime),
		Counts:       &counts,
		Retained:     name != mqtt.EventHeartbeat,
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
	}
}

// noPublisher stands in when no broker is configured.
type noPublisher struct{}

func (noPublisher) PublishDecision(session.Decision) error { return nil }
func (noPublisher) PublishSystem(mqtt.SystemEvent) error   { return nil }
func (noPublisher) Close() error                           { return nil }
