package nodes

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"bytes", []byte("north"), "north"},
		{"time", time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)), "2026-05-01T11:00:00Z"},
		{"small int", int64(42), 42.0},
		{"exact bound", int64(1 << 53), float64(1 << 53)},
		{"bigint", int64(1<<53 + 1), "9007199254740993"},
		{"negative bigint", int64(math.MinInt64), "-9223372036854775808"},
		{"float", 1.5, 1.5},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeValue(tt.in))
		})
	}
}
