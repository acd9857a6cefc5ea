package discovery

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// ErrSelectionAborted means the user closed the prompt without picking
// any device.
var ErrSelectionAborted = errors.New("discovery: device selection aborted")

// SelectInteractive renders the scan results and blocks for a human
// selection among them. Accepts a comma- or space-separated list of
// indexes, or "all".
func SelectInteractive(devices []Device) ([]Device, error) {
	fmt.Printf("Found %d sensors:\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  %d. %s [%s] %d dBm\n", i+1, d.Name, d.Address, d.RSSI)
	}

	rl, err := readline.New("select (e.g. 1,3 or 'all')> ")
	if err != nil {
		return nil, fmt.Errorf("open prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil, ErrSelectionAborted
			}
			return nil, fmt.Errorf("read selection: %w", err)
		}

		picked, err := parseSelection(line, len(devices))
		if err != nil {
			fmt.Printf("invalid selection: %v\n", err)
			continue
		}

		chosen := make([]Device, 0, len(picked))
		for _, i := range picked {
			chosen = append(chosen, devices[i])
		}
		return chosen, nil
	}
}

// parseSelection turns a human selection line into zero-based indexes
// into a list of n devices. Duplicates collapse to one pick.
func parseSelection(line string, n int) ([]int, error) {
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "" {
		return nil, errors.New("empty selection")
	}
	if line == "all" || line == "*" {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' })
	seen := make(map[int]bool, len(fields))
	var picked []int
	for _, f := range fields {
		i, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", f)
		}
		if i < 1 || i > n {
			return nil, fmt.Errorf("index %d out of range 1..%d", i, n)
		}
		if seen[i-1] {
			continue
		}
		seen[i-1] = true
		picked = append(picked, i-1)
	}
	if len(picked) == 0 {
		return nil, errors.New("empty selection")
	}
	return picked, nil
}
