package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := messagesTotal
	Init()
	require.NotNil(t, first)
	require.Same(t, first, messagesTotal)
}

func TestObserveMessage(t *testing.T) {
	Init()
	before := testutil.ToFloat64(messagesTotal.WithLabelValues("ready"))
	ObserveMessage("ready")
	ObserveMessage("ready")
	require.Equal(t, before+2, testutil.ToFloat64(messagesTotal.WithLabelValues("ready")))
}

func TestObserveFetchCountsBytesPerSite(t *testing.T) {
	Init()
	counter := fetchBytesTotal.WithLabelValues("bytes.example.com")
	before := testutil.ToFloat64(counter)
	ObserveFetch("https://Bytes.example.com/a", "ok", 20*time.Millisecond, 128)
	ObserveFetch("https://bytes.example.com/b", "error", time.Second, 0)
	require.Equal(t, before+128, testutil.ToFloat64(counter))
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	require.Equal(t, before+1, testutil.ToFloat64(activeWorkers))
	DecActiveWorkers()
	require.Equal(t, before, testutil.ToFloat64(activeWorkers))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
