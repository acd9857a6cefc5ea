package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/motion_streamer/internal/coordinator"
	"github.com/relabs-tech/motion_streamer/internal/dot"
)

// SampleRecord is one live reading tagged with its source device, as it
// appears in the JSON stream.
type SampleRecord struct {
	SensorID string `json:"sensor_id"`
	dot.QuaternionSample
}

// RunMeta opens every JSON stream so a file is self-describing.
type RunMeta struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunMeta stamps a fresh run identifier.
func NewRunMeta() RunMeta {
	return RunMeta{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
}

// StreamWriter emits records incrementally as one JSON array, to an
// optional file and an optional console writer. Safe for use from
// several sessions' sample callbacks at once.
type StreamWriter struct {
	mu      sync.Mutex
	file    *os.File
	console io.Writer
	pretty  bool
	count   int
	closed  bool
}

// NewStreamWriter opens the stream. path may be empty (no file);
// console may be nil (no echo). Parent directories are created as
// needed and the JSON array is started immediately.
func NewStreamWriter(path string, pretty bool, console io.Writer) (*StreamWriter, error) {
	w := &StreamWriter{console: console, pretty: pretty}

	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create output directory: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create output file: %w", err)
		}
		if _, err := f.WriteString("[\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("start output file: %w", err)
		}
		w.file = f
	}
	return w, nil
}

// Write appends one record to the stream.
func (w *StreamWriter) Write(record any) error {
	data, err := w.marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("write after close")
	}

	if w.console != nil {
		fmt.Fprintf(w.console, "%s\n", data)
	}
	if w.file != nil {
		if w.count > 0 {
			if _, err := w.file.WriteString(",\n"); err != nil {
				return err
			}
		}
		if _, err := w.file.Write(data); err != nil {
			return err
		}
	}
	w.count++
	return nil
}

func (w *StreamWriter) marshal(record any) ([]byte, error) {
	if w.pretty {
		return json.MarshalIndent(record, "", "  ")
	}
	return json.Marshal(record)
}

// Count returns the number of records written so far.
func (w *StreamWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close seals the JSON array and releases the file.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	if _, err := w.file.WriteString("\n]\n"); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// WriteRunDocument writes the final per-device result mapping as a JSON
// document of shape {device_id: {status, samples: [...]}}.
func WriteRunDocument(path string, results map[string]*coordinator.SessionResult, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(results, "", "  ")
	} else {
		data, err = json.Marshal(results)
	}
	if err != nil {
		return fmt.Errorf("marshal run document: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run document: %w", err)
	}
	return nil
}
