package flight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_String(t *testing.T) {
	k := Key{Country: "FR", FlightCode: "YUL-NCE-1"}
	assert.Equal(t, "FR/YUL-NCE-1", k.String())
}

func TestFlight_Validate(t *testing.T) {
	dep := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		flight      *Flight
		expectedErr error
	}{
		{
			name:   "有効なフライト",
			flight: &Flight{Country: "FR", FlightCode: "YUL-NCE-1", SeatsAvailable: 1, MaxCapacity: 180, DepartureTime: dep, ArrivalTime: dep.Add(8 * time.Hour)},
		},
		{
			name:        "国が空",
			flight:      &Flight{FlightCode: "YUL-NCE-1", MaxCapacity: 1},
			expectedErr: ErrCountryRequired,
		},
		{
			name:        "便コードが空",
			flight:      &Flight{Country: "FR", MaxCapacity: 1},
			expectedErr: ErrFlightCodeRequired,
		},
		{
			name:        "残席数が最大座席数を超える",
			flight:      &Flight{Country: "FR", FlightCode: "X", SeatsAvailable: 3, MaxCapacity: 2},
			expectedErr: ErrInvalidSeatCount,
		},
		{
			name:        "残席数が負",
			flight:      &Flight{Country: "FR", FlightCode: "X", SeatsAvailable: -1, MaxCapacity: 2},
			expectedErr: ErrInvalidSeatCount,
		},
		{
			name:        "到着が出発より前",
			flight:      &Flight{Country: "FR", FlightCode: "X", MaxCapacity: 2, DepartureTime: dep, ArrivalTime: dep.Add(-time.Hour)},
			expectedErr: ErrInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flight.Validate()
			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
