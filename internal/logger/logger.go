// Package logger records monitor samples to CSV files with automatic
// rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/obdscan/internal/obd"
	"github.com/shaunagostinho/obdscan/internal/scanner"
)

// Logger writes timestamped PID readings to CSV. Each file carries a fixed
// column set derived from the PID list it was opened with; a change in the
// monitored set starts a new file.
type Logger struct {
	mu      sync.Mutex
	dir     string
	enabled bool

	file    *os.File
	writer  *csv.Writer
	columns []byte // PID per data column
	rows    int
}

// Config holds logger configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Rotate after 100k rows (~27 hrs at 1 Hz).
const maxRowsPerFile = 100_000

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/obdscan"
	}
	return &Logger{
		dir:     cfg.Path,
		enabled: cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one monitor sample.
func (l *Logger) Record(sample scanner.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(sample.Readings) == 0 {
		return
	}

	pids := make([]byte, len(sample.Readings))
	for i, r := range sample.Readings {
		pids[i] = r.PID
	}

	if l.writer == nil || l.rows >= maxRowsPerFile || !sameColumns(l.columns, pids) {
		if err := l.rotateFile(sample.Time, pids); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	row := make([]string, 1+len(l.columns))
	row[0] = sample.Time.Format(time.RFC3339Nano)
	for i, pid := range l.columns {
		for _, r := range sample.Readings {
			if r.PID == pid {
				row[i+1] = fmt.Sprintf("%.2f", r.Value)
				break
			}
		}
	}

	if err := l.writer.Write(row); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func sameColumns(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (l *Logger) rotateFile(now time.Time, pids []byte) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("obdscan_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.columns = append([]byte(nil), pids...)
	l.rows = 0

	header := make([]string, 1+len(pids))
	header[0] = "timestamp"
	for i, pid := range pids {
		if p, ok := obd.LookupPID(pid); ok {
			header[i+1] = fmt.Sprintf("%s (%s)", p.Name, p.Unit)
		} else {
			header[i+1] = fmt.Sprintf("pid_%02X", pid)
		}
	}
	if err := l.writer.Write(header); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
