package checkpoint

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{
			name: "zero fields",
			fields: Fields{
				BlockTimestamp: 0, ChainID: 0, BlockNumber: 0, TransactionIndex: 0,
				EventType: EventTypeBlock, EventIndex: 0,
			},
		},
		{
			name: "typical log event",
			fields: Fields{
				BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 18900000,
				TransactionIndex: 42, EventType: EventTypeLog, EventIndex: 7,
			},
		},
		{
			name: "max-ish fields",
			fields: Fields{
				BlockTimestamp: 9999999999, ChainID: 9999999999999999,
				BlockNumber: 9999999999999999, TransactionIndex: 9999999999999999,
				EventType: 9, EventIndex: 9999999999999999,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.fields)
			require.Len(t, string(encoded), Len)

			decoded, err := Decode(string(encoded))
			require.NoError(t, err)
			require.Equal(t, tt.fields, decoded)
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode("too short")
	require.Error(t, err)
	var invalid *ErrInvalidCheckpoint
	require.ErrorAs(t, err, &invalid)

	_, err = Decode(string(Zero[:Len-1]) + "x")
	require.Error(t, err)
}

func TestZeroAndMaxSentinels(t *testing.T) {
	require.Len(t, string(Zero), Len)
	require.Len(t, string(Max), Len)
	require.True(t, Less(Zero, Max))

	fields, err := Decode(string(Zero))
	require.NoError(t, err)
	require.Equal(t, Fields{}, fields)
}

// TestCompareIsTupleOrder is property P2 from SPEC_FULL.md: Compare(encode(a),
// encode(b)) must equal tuple comparison of a and b for arbitrary fields.
func TestCompareIsTupleOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randFields := func() Fields {
		return Fields{
			BlockTimestamp:   uint64(rng.Int63n(1e10)),
			ChainID:          uint64(rng.Int63n(1e6)),
			BlockNumber:      uint64(rng.Int63n(1e8)),
			TransactionIndex: uint64(rng.Int63n(1000)),
			EventType:        EventType(rng.Intn(10)),
			EventIndex:       uint64(rng.Int63n(1000)),
		}
	}

	tupleLess := func(a, b Fields) bool {
		if a.BlockTimestamp != b.BlockTimestamp {
			return a.BlockTimestamp < b.BlockTimestamp
		}
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TransactionIndex != b.TransactionIndex {
			return a.TransactionIndex < b.TransactionIndex
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		return a.EventIndex < b.EventIndex
	}

	for i := 0; i < 500; i++ {
		a, b := randFields(), randFields()
		ea, eb := Encode(a), Encode(b)
		require.Equal(t, tupleLess(a, b), Less(ea, eb), "a=%+v b=%+v", a, b)
	}
}

func TestSortStability(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := 200
	fields := make([]Fields, n)
	for i := range fields {
		fields[i] = Fields{
			BlockTimestamp: uint64(rng.Int63n(100)),
			ChainID:        uint64(rng.Int63n(5)),
			BlockNumber:    uint64(rng.Int63n(100)),
			EventIndex:     uint64(i),
		}
	}

	cps := make([]Checkpoint, n)
	for i, f := range fields {
		cps[i] = Encode(f)
	}

	sort.Slice(cps, func(i, j int) bool { return Less(cps[i], cps[j]) })
	for i := 1; i < len(cps); i++ {
		require.LessOrEqual(t, Compare(cps[i-1], cps[i]), 0)
	}
}
