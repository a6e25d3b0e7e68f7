package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestSignalStateString(t *testing.T) {
	tests := []struct {
		name  string
		state SignalState
		want  string
	}{
		{
			name:  "generated",
			state: Generated,
			want:  "generated",
		},
		{
			name:  "admitted",
			state: Admitted,
			want:  "admitted",
		},
		{
			name:  "pending execution",
			state: PendingExecution,
			want:  "pending execution",
		},
		{
			name:  "open",
			state: Open,
			want:  "open",
		},
		{
			name:  "closed",
			state: Closed,
			want:  "closed",
		},
		{
			name:  "rejected",
			state: Rejected,
			want:  "rejected",
		},
		{
			name:  "expired",
			state: Expired,
			want:  "expired",
		},
		{
			name:  "unknown",
			state: SignalState(999),
			want:  "unknown",
		},
	}

	for _, test := range tests {
		str := test.state.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}

func TestFingerprint(t *testing.T) {
	window := time.Hour
	first := time.Date(2024, 3, 5, 9, 12, 0, 0, time.UTC)
	second := time.Date(2024, 3, 5, 9, 48, 0, 0, time.UTC)
	third := time.Date(2024, 3, 5, 10, 3, 0, 0, time.UTC)

	// Signals generated within the same window share a fingerprint.
	assert.Equal(t, Fingerprint("EUR_USD", Buy, first, window), Fingerprint("EUR_USD", Buy, second, window))

	// A new window, pair or direction yields a new fingerprint.
	assert.NotEqual(t, Fingerprint("EUR_USD", Buy, first, window), Fingerprint("EUR_USD", Buy, third, window))
	assert.NotEqual(t, Fingerprint("EUR_USD", Buy, first, window), Fingerprint("GBP_USD", Buy, first, window))
	assert.NotEqual(t, Fingerprint("EUR_USD", Buy, first, window), Fingerprint("EUR_USD", Sell, first, window))

	// Fingerprints are stable hex identifiers.
	assert.Equal(t, len(Fingerprint("EUR_USD", Buy, first, window)), 16)
}

func TestVolatilityRegimeString(t *testing.T) {
	tests := []struct {
		name   string
		regime VolatilityRegime
		want   string
	}{
		{
			name:   "low",
			regime: LowVolatility,
			want:   "low",
		},
		{
			name:   "normal",
			regime: NormalVolatility,
			want:   "normal",
		},
		{
			name:   "high",
			regime: HighVolatility,
			want:   "high",
		},
		{
			name:   "unknown",
			regime: VolatilityRegime(999),
			want:   "unknown",
		},
	}

	for _, test := range tests {
		str := test.regime.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}
