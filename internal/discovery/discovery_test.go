package discovery

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_streamer/internal/transport"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestScanFiltersAndSorts(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Name: "Movella DOT A", RSSI: -70})
	m.AddDevice(&transport.MockDevice{Address: "BB:01", Name: "SomeHeadphones", RSSI: -40})
	m.AddDevice(&transport.MockDevice{Address: "AA:02", Name: "Movella DOT B", RSSI: -55})
	m.AddDevice(&transport.MockDevice{Address: "CC:01", Name: "", RSSI: -30})

	s := NewScanner(m, testLogger())
	devices, err := s.Scan(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)

	// Only the matching prefix survives, strongest signal first.
	require.Len(t, devices, 2)
	assert.Equal(t, "AA:02", devices[0].Address)
	assert.Equal(t, "AA:01", devices[1].Address)
}

func TestScanDeduplicatesKeepingLatestRSSI(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Name: "Movella DOT A", RSSI: -60, Readvertise: 2})

	s := NewScanner(m, testLogger())
	devices, err := s.Scan(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, devices, 1)
	assert.Equal(t, int16(-60), devices[0].RSSI)
}

func TestScanNoDevicesFound(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "BB:01", Name: "NotASensor"})

	s := NewScanner(m, testLogger())
	_, err := s.Scan(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestScanEmptyMedium(t *testing.T) {
	s := NewScanner(transport.NewMock(), testLogger())
	_, err := s.Scan(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		line    string
		n       int
		want    []int
		wantErr bool
	}{
		{line: "1", n: 3, want: []int{0}},
		{line: "1,3", n: 3, want: []int{0, 2}},
		{line: "2 3", n: 3, want: []int{1, 2}},
		{line: " 1, 2 ", n: 2, want: []int{0, 1}},
		{line: "1,1,1", n: 2, want: []int{0}},
		{line: "all", n: 2, want: []int{0, 1}},
		{line: "*", n: 1, want: []int{0}},
		{line: "", n: 2, wantErr: true},
		{line: "0", n: 2, wantErr: true},
		{line: "4", n: 3, wantErr: true},
		{line: "x", n: 3, wantErr: true},
		{line: ",", n: 3, wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseSelection(tc.line, tc.n)
		if tc.wantErr {
			assert.Error(t, err, "line %q", tc.line)
			continue
		}
		require.NoError(t, err, "line %q", tc.line)
		assert.Equal(t, tc.want, got, "line %q", tc.line)
	}
}
