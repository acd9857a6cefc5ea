package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/relabs-tech/motion_streamer/internal/coordinator"
	"github.com/relabs-tech/motion_streamer/internal/dot"
)

// FormatSample renders one reading as the multi-line console block.
func FormatSample(device string, s dot.QuaternionSample) string {
	return fmt.Sprintf(
		"Sensor: %s\nTimestamp: %d\nQuaternion (w,x,y,z): (%.4f, %.4f, %.4f, %.4f)\nFree acceleration (m/s²): (%.2f, %.2f, %.2f)\n",
		device, s.Timestamp,
		s.Quat[0], s.Quat[1], s.Quat[2], s.Quat[3],
		s.FreeAcc[0], s.FreeAcc[1], s.FreeAcc[2],
	)
}

// WriteSummary renders the per-device outcome of a finished run.
func WriteSummary(w io.Writer, results map[string]*coordinator.SessionResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "Run finished: %d device(s)\n", len(ids))
	for _, id := range ids {
		r := results[id]
		label := id
		if r.Name != "" && r.Name != id {
			label = fmt.Sprintf("%s (%s)", r.Name, id)
		}
		fmt.Fprintf(w, "  %-40s %-22s %d samples\n", label, r.Status, len(r.Samples))
	}
}
