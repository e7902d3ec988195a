package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/telemetry"
)

func TestCSVLoggerWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "session1")

	l := telemetry.NewCSVLogger()
	var meta telemetry.SessionMetadata
	meta.HallProbe.Filter = "moving-average"
	meta.Kepco.AOChannel = 2

	if err := l.OpenSession(base, meta, false); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	s := telemetry.Sample{
		UTC:       time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		ElapsedS:  1.5,
		VHall:     0.1,
		BMeas:     0.2,
		BSet:      0.25,
		VCmd:      3.3,
		Err:       0.05,
		PV:        1, IV: 2, DV: 3,
		Enabled:   true,
		Saturated: false,
		Fault:     false,
	}
	if err := l.LogSample(s); err != nil {
		t.Fatalf("LogSample: %v", err)
	}
	if err := l.CloseSession(); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	csvBytes, err := os.ReadFile(base + ".csv")
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(csvBytes), "\n"), "\n")
	if lines[0] != "t_utc_iso,elapsed_s,vhall_v,bmeas_t,bset_t,vcmd_v,err_t,p_v,i_v,d_v,enabled,saturated,fault" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("expected 1 header + 1 data row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "2026-07-30T12:00:00.000Z,1.5,0.1,0.2,0.25,3.3,0.05,1,2,3,1,0,0") {
		t.Fatalf("unexpected data row: %q", lines[1])
	}

	metaBytes, err := os.ReadFile(base + ".meta.txt")
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	metaStr := string(metaBytes)
	for _, want := range []string{"StartUTC:", "[HallProbe]", "[Kepco]", "[Calibration]", "[Controller]", "Filter: moving-average", "AOChannel: 2"} {
		if !strings.Contains(metaStr, want) {
			t.Fatalf("meta file missing %q:\n%s", want, metaStr)
		}
	}
}

func TestCSVLoggerRefusesOverwriteByDefault(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "session1")

	l1 := telemetry.NewCSVLogger()
	if err := l1.OpenSession(base, telemetry.SessionMetadata{}, false); err != nil {
		t.Fatalf("first OpenSession: %v", err)
	}
	l1.CloseSession()

	l2 := telemetry.NewCSVLogger()
	if err := l2.OpenSession(base, telemetry.SessionMetadata{}, false); err == nil {
		t.Fatal("expected second OpenSession without overwrite to fail")
	}
}

func TestCSVLoggerOverwriteTruncates(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "session1")

	l1 := telemetry.NewCSVLogger()
	l1.OpenSession(base, telemetry.SessionMetadata{}, false)
	l1.LogSample(telemetry.Sample{UTC: time.Now()})
	l1.CloseSession()

	l2 := telemetry.NewCSVLogger()
	if err := l2.OpenSession(base, telemetry.SessionMetadata{}, true); err != nil {
		t.Fatalf("overwrite OpenSession: %v", err)
	}
	l2.CloseSession()

	csvBytes, _ := os.ReadFile(base + ".csv")
	lines := strings.Split(strings.TrimRight(string(csvBytes), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only header after overwrite, got %d lines", len(lines))
	}
}
