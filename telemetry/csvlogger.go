package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/util"
)

// csvHeader is the fixed column order for <base>.csv.
const csvHeader = "t_utc_iso,elapsed_s,vhall_v,bmeas_t,bset_t,vcmd_v,err_t,p_v,i_v,d_v,enabled,saturated,fault\n"

// CSVLogger writes samples to a CSV file and session metadata to a
// companion INI-like <base>.meta.txt file: a flat data file paired with a
// small human-readable metadata sidecar.
type CSVLogger struct {
	mu       sync.Mutex
	csvFile  *os.File
	basePath string
}

// NewCSVLogger returns an unopened CSVLogger.
func NewCSVLogger() *CSVLogger {
	return &CSVLogger{}
}

// OpenSession creates <basePath>.csv and <basePath>.meta.txt. If overwrite is
// false and either file already exists, OpenSession fails rather than
// truncate data from a prior run.
func (l *CSVLogger) OpenSession(basePath string, meta SessionMetadata, overwrite bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.csvFile != nil {
		return fmt.Errorf("telemetry: session already open")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	csvPath := basePath + ".csv"
	metaPath := basePath + ".meta.txt"

	f, err := os.OpenFile(csvPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", csvPath, err)
	}
	if _, err := f.WriteString(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("telemetry: write header: %w", err)
	}

	if err := writeMetaFile(metaPath, meta, overwrite, time.Now().UTC()); err != nil {
		f.Close()
		return err
	}

	l.csvFile = f
	l.basePath = basePath
	return nil
}

// LogSample appends one CSV row. Rows are flushed immediately: a session
// crash should not lose already-recorded samples.
func (l *CSVLogger) LogSample(s Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.csvFile == nil {
		return fmt.Errorf("telemetry: no open session")
	}

	floats := util.Float64SliceToCSV([]float64{
		s.ElapsedS, s.VHall, s.BMeas, s.BSet, s.VCmd, s.Err, s.PV, s.IV, s.DV,
	}, 'f', -1)
	row := fmt.Sprintf("%s,%s,%s,%s,%s\n",
		s.UTC.UTC().Format("2006-01-02T15:04:05.000Z"),
		floats,
		formatBool(s.Enabled),
		formatBool(s.Saturated),
		formatBool(s.Fault),
	)
	_, err := l.csvFile.WriteString(row)
	return err
}

// CloseSession flushes and closes the CSV file.
func (l *CSVLogger) CloseSession() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.csvFile == nil {
		return nil
	}
	err := l.csvFile.Close()
	l.csvFile = nil
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeMetaFile(path string, m SessionMetadata, overwrite bool, startUTC time.Time) error {
	flags := os.O_CREATE | os.O_WRONLY
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	defer f.Close()

	body := fmt.Sprintf(
		"StartUTC: %s\n\n"+
			"[HallProbe]\nV0_V: %s\nTperV: %s\nFilter: %s\n\n"+
			"[Kepco]\nAOChannel: %d\nClampMinV: %s\nClampMaxV: %s\nSlewVps: %s\n\n"+
			"[Calibration]\nProgV0_V: %s\nI0_A: %s\nIperV: %s\nB0_T: %s\nTperA: %s\n\n"+
			"[Controller]\nKp: %s\nKi: %s\nKd: %s\nRamp_Tps: %s\nDerivTau_s: %s\nOutMinV: %s\nOutMaxV: %s\n",
		startUTC.Format("2006-01-02T15:04:05.000Z"),
		formatFloat(m.HallProbe.V0V), formatFloat(m.HallProbe.TperV), m.HallProbe.Filter,
		m.Kepco.AOChannel, formatFloat(m.Kepco.ClampMinV), formatFloat(m.Kepco.ClampMaxV), formatFloat(m.Kepco.SlewVps),
		formatFloat(m.Calibration.ProgV0V), formatFloat(m.Calibration.I0A), formatFloat(m.Calibration.IperV), formatFloat(m.Calibration.B0T), formatFloat(m.Calibration.TperA),
		formatFloat(m.Controller.Kp), formatFloat(m.Controller.Ki), formatFloat(m.Controller.Kd), formatFloat(m.Controller.RampTps), formatFloat(m.Controller.DerivTauS), formatFloat(m.Controller.OutMinV), formatFloat(m.Controller.OutMaxV),
	)
	_, err = f.WriteString(body)
	return err
}
