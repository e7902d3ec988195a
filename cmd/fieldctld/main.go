/*Command fieldctld is an interactive demo/bring-up harness for the
electromagnet field controller core. It wires a simulated Analog I/O Port,
loads a session configuration, ticks the control loop on a plain
time.Ticker, serves the operator HTTP surface, and logs telemetry to CSV.

It is not a production entry point: the real deployment supplies its own
timer/event loop and a real Analog I/O Port driver, as described for the
controller core. This harness exists to exercise the core end to end the
way the cmd/*test utilities exercise a single driver against real or
simulated hardware.
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/config"
	"github.com/ejshaman54/electromagnet-control-program/control"
	"github.com/ejshaman54/electromagnet-control-program/fieldctl"
	"github.com/ejshaman54/electromagnet-control-program/hallprobe"
	"github.com/ejshaman54/electromagnet-control-program/httpapi"
	"github.com/ejshaman54/electromagnet-control-program/kepco"
	"github.com/ejshaman54/electromagnet-control-program/telemetry"
	"github.com/ejshaman54/electromagnet-control-program/util"
)

func setupSpinner(msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " " + msg,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return spinner
}

// buildSession wires a Sim-backed control.Session from a loaded config.
func buildSession(cfg config.Session) (*control.Session, *aio.Sim) {
	sim := aio.NewSim()

	// Model a simple linear magnet+probe transfer function: writing volts
	// on the Kepco AO channel produces a proportional voltage on the Hall
	// probe's AI channel, so the demo loop has something to close around.
	sim.Feedback = func(outCh uint32, volts float64) (uint32, float64) {
		return cfg.HallProbe.AIChannel, volts * 0.1
	}

	cond := hallprobe.New()
	cond.SetOffset(cfg.HallProbe.V0V)
	if err := cond.SetSensitivity(cfg.HallProbe.TperV); err != nil {
		log.Fatal(err)
	}
	switch cfg.HallProbe.Filter {
	case "moving-average":
		cond.SetFilterMode(hallprobe.FilterMovingAverage)
		cond.ConfigureMovingAverage(cfg.HallProbe.MAWindow)
	case "low-pass":
		cond.SetFilterMode(hallprobe.FilterLowPass)
		cond.ConfigureLowPass(cfg.HallProbe.LPTauS)
	default:
		cond.SetFilterMode(hallprobe.FilterNone)
	}

	drv := kepco.New(sim)
	if err := drv.ConfigureAnalogOutput(cfg.Kepco.AOChannel, cfg.Kepco.AORange, cfg.Kepco.ClampMinV, cfg.Kepco.ClampMaxV); err != nil {
		log.Fatal(err)
	}
	if err := drv.SetSlewLimit(cfg.Kepco.SlewVps); err != nil {
		log.Fatal(err)
	}
	if err := drv.SetProgToCurrent(cfg.Calibration.ProgV0V, cfg.Calibration.I0A, cfg.Calibration.IperV); err != nil {
		log.Fatal(err)
	}
	drv.SetCurrentToField(cfg.Calibration.B0T, cfg.Calibration.TperA)

	ctl := fieldctl.New()
	ctl.Gains = fieldctl.Gains{Kp: cfg.Controller.Kp, Ki: cfg.Controller.Ki, Kd: cfg.Controller.Kd}
	ctl.FF = fieldctl.Feedforward{Enabled: cfg.Controller.FFEnabled, V0: cfg.Controller.FFV0, VperT: cfg.Controller.FFVperT}
	if err := ctl.ConfigureLimits(fieldctl.Limits{
		Integrator: util.Limiter{Min: -100, Max: 100},
		Output:     util.Limiter{Min: cfg.Controller.OutMinV, Max: cfg.Controller.OutMaxV},
		RampRate:   cfg.Controller.RampTps,
		DerivTau:   cfg.Controller.DerivTauS,
		OutputSlew: cfg.Kepco.SlewVps,
	}); err != nil {
		log.Fatal(err)
	}

	pub := telemetry.NewPublisher(telemetry.NewCSVLogger())

	sess := control.NewSession(sim, cond, ctl, drv, pub)
	sess.Hall = control.HallReadParams{Channel: cfg.HallProbe.AIChannel, Range: cfg.HallProbe.AIRange, Reference: aio.RefGround}
	return sess, sim
}

func main() {
	configPath := flag.String("config", "fieldctl-session.yml", "path to session YAML config")
	flag.Parse()

	spin := setupSpinner("loading configuration")
	spin.Start()
	cfg, err := config.Load(*configPath)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		log.Fatal(err)
	}
	spin.Stop()

	sess, _ := buildSession(cfg)
	color.Green("session configured: Kp=%.3f Ki=%.3f Kd=%.3f", cfg.Controller.Kp, cfg.Controller.Ki, cfg.Controller.Kd)

	watcher, err := config.Watch(*configPath, func(g config.GainsAndLimits) {
		sess.ConfigureGains(fieldctl.Gains{Kp: g.Controller.Kp, Ki: g.Controller.Ki, Kd: g.Controller.Kd})
		if err := sess.ConfigureLimits(fieldctl.Limits{
			Integrator: util.Limiter{Min: -100, Max: 100},
			Output:     util.Limiter{Min: g.Controller.OutMinV, Max: g.Controller.OutMaxV},
			RampRate:   g.RampTps,
			DerivTau:   g.Controller.DerivTauS,
			OutputSlew: g.SlewVps,
		}); err != nil {
			color.Red("reloaded limits rejected: %v", err)
			return
		}
		sess.Driver.SetSlewLimit(g.SlewVps)
		color.Yellow("gains/limits reloaded from %s", *configPath)
	})
	if err != nil {
		color.Red("config hot-reload unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	srv := httpapi.NewServer(sess)
	color.Cyan("operator HTTP surface listening on %s", cfg.Addr)
	go func() {
		if err := http.ListenAndServe(cfg.Addr, srv.Router); err != nil {
			log.Println("http server stopped:", err)
		}
	}()

	ctx := context.Background()
	tickPeriod := util.SecsToDuration(1 / cfg.TickHz)
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	t0 := time.Now()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Println("fieldctld demo harness running; press ctrl-c to stop")
	for {
		select {
		case now := <-ticker.C:
			t := now.Sub(t0).Seconds()
			sess.Tick(ctx, t, now)
			if samp := sess.LastSample(); samp.Fault {
				color.Red("tick fault (%s): %v", samp.FaultKind, sess.LastFaultDetail())
			}
		case <-sig:
			color.Red("shutting down")
			sess.StopSession()
			return
		}
	}
}
