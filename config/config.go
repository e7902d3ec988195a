/*Package config loads and hot-reloads the session configuration for the
electromagnet field controller: koanf defaults merged with an optional
YAML file on disk.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// HallProbeConfig mirrors the HallProbe metadata keys logged in a session's meta file.
type HallProbeConfig struct {
	V0V    float64 `yaml:"V0_V" koanf:"V0_V"`
	TperV  float64 `yaml:"TperV" koanf:"TperV"`
	Filter string  `yaml:"Filter" koanf:"Filter"`
	// MAWindow and LPTauS configure the selected filter; only the field
	// matching Filter is meaningful.
	MAWindow int     `yaml:"MAWindow" koanf:"MAWindow"`
	LPTauS   float64 `yaml:"LPTauS" koanf:"LPTauS"`
	AIChannel uint32 `yaml:"AIChannel" koanf:"AIChannel"`
	AIRange   uint32 `yaml:"AIRange" koanf:"AIRange"`
}

// KepcoConfig mirrors the Kepco metadata keys logged in a session's meta file, plus the
// addressing fields needed to open the driver (not part of the logged
// metadata, but required to configure it).
type KepcoConfig struct {
	AOChannel uint32  `yaml:"AOChannel" koanf:"AOChannel"`
	AORange   uint32  `yaml:"AORange" koanf:"AORange"`
	ClampMinV float64 `yaml:"ClampMinV" koanf:"ClampMinV"`
	ClampMaxV float64 `yaml:"ClampMaxV" koanf:"ClampMaxV"`
	SlewVps   float64 `yaml:"SlewVps" koanf:"SlewVps"`

	// EnableMode is one of "none", "digital-line", "serial-interlock".
	EnableMode   string `yaml:"EnableMode" koanf:"EnableMode"`
	DigitalLine  uint32 `yaml:"DigitalLine" koanf:"DigitalLine"`
	SerialAddr   string `yaml:"SerialAddr" koanf:"SerialAddr"`
	SerialBaud   int    `yaml:"SerialBaud" koanf:"SerialBaud"`
}

// CalibrationConfig mirrors the Calibration metadata keys logged in a session's meta file.
type CalibrationConfig struct {
	ProgV0V float64 `yaml:"ProgV0_V" koanf:"ProgV0_V"`
	I0A     float64 `yaml:"I0_A" koanf:"I0_A"`
	IperV   float64 `yaml:"IperV" koanf:"IperV"`
	B0T     float64 `yaml:"B0_T" koanf:"B0_T"`
	TperA   float64 `yaml:"TperA" koanf:"TperA"`
}

// ControllerConfig mirrors the Controller metadata keys logged in a session's meta file.
type ControllerConfig struct {
	Kp         float64 `yaml:"Kp" koanf:"Kp"`
	Ki         float64 `yaml:"Ki" koanf:"Ki"`
	Kd         float64 `yaml:"Kd" koanf:"Kd"`
	RampTps    float64 `yaml:"Ramp_Tps" koanf:"Ramp_Tps"`
	DerivTauS  float64 `yaml:"DerivTau_s" koanf:"DerivTau_s"`
	OutMinV    float64 `yaml:"OutMinV" koanf:"OutMinV"`
	OutMaxV    float64 `yaml:"OutMaxV" koanf:"OutMaxV"`

	FFEnabled bool    `yaml:"FFEnabled" koanf:"FFEnabled"`
	FFV0      float64 `yaml:"FFV0" koanf:"FFV0"`
	FFVperT   float64 `yaml:"FFVperT" koanf:"FFVperT"`
}

// Session is the full on-disk configuration for one field-control session.
type Session struct {
	Addr        string            `yaml:"Addr" koanf:"Addr"`
	LogDir      string            `yaml:"LogDir" koanf:"LogDir"`
	TickHz      float64           `yaml:"TickHz" koanf:"TickHz"`
	HallProbe   HallProbeConfig   `yaml:"HallProbe" koanf:"HallProbe"`
	Kepco       KepcoConfig       `yaml:"Kepco" koanf:"Kepco"`
	Calibration CalibrationConfig `yaml:"Calibration" koanf:"Calibration"`
	Controller  ControllerConfig  `yaml:"Controller" koanf:"Controller"`
}

// Default returns the Session defaults fed to koanf's structs.Provider
// before any file on disk is merged in.
func Default() Session {
	return Session{
		Addr:   ":8090",
		LogDir: ".",
		TickHz: 100,
		HallProbe: HallProbeConfig{
			TperV:    1,
			Filter:   "none",
			MAWindow: 1,
			AIChannel: 0,
			AIRange:   0,
		},
		Kepco: KepcoConfig{
			AOChannel: 0,
			AORange:   0,
			ClampMinV: -10,
			ClampMaxV: 10,
			SlewVps:   0,
			EnableMode: "none",
		},
		Calibration: CalibrationConfig{
			IperV: 1,
			TperA: 1,
		},
		Controller: ControllerConfig{
			OutMinV: -10,
			OutMaxV: 10,
		},
	}
}

// Load merges the defaults with path's YAML contents, if the file exists.
// A missing file is not an error, mirroring setupconfig's treatment of a
// missing andor-http.yml.
func Load(path string) (Session, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Session{}, fmt.Errorf("config: loading defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			return Session{}, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}
	var s Session
	if err := k.Unmarshal("", &s); err != nil {
		return Session{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return s, nil
}

// GainsAndLimits is the hot-reloadable subset of Session: PID gains, output
// clamp/slew, ramp rate, and derivative tau. Calibration and addressing
// fields are intentionally excluded; they require a controlled restart.
type GainsAndLimits struct {
	Controller ControllerConfig
	RampTps    float64
	SlewVps    float64
}

func subset(s Session) GainsAndLimits {
	return GainsAndLimits{
		Controller: s.Controller,
		RampTps:    s.Controller.RampTps,
		SlewVps:    s.Kepco.SlewVps,
	}
}

// Watcher reloads path on write events and calls onChange with only the
// gains/limits subset, never touching calibration or device addressing.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path for writes and invokes onChange with the
// freshly loaded gains/limits each time the file changes. Call Close to
// stop watching.
func Watch(path string, onChange func(GainsAndLimits)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: fsnotify: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s, err := Load(path)
				if err != nil {
					continue
				}
				onChange(subset(s))
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// Close stops the watcher goroutine and releases the fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
