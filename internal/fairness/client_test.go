package fairness

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys_Scheme(t *testing.T) {
	k := newKeys("slot")

	assert.Equal(t, "slot:stock:item-1", k.stock("item-1"))
	assert.Equal(t, "slot:queue:item-1", k.queue("item-1"))
	assert.Equal(t, "slot:guard:item-1:req-9", k.guard("item-1", "req-9"))
	assert.Equal(t, "slot:warned:item-1:req-9", k.warned("item-1", "req-9"))
	assert.Equal(t, "slot:items", k.itemIndex())
}

func TestKeys_PrefixTrimmed(t *testing.T) {
	k := newKeys(":flashsale:")

	assert.Equal(t, "flashsale:stock:item-1", k.stock("item-1"))
}

func TestParseAllocateReply_Success(t *testing.T) {
	res, err := parseAllocateReply([]any{"OK", int64(4), int64(96)})

	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(4), res.Position)
	assert.Equal(t, int64(96), res.RemainingStock)
}

func TestParseAllocateReply_DuplicateAndSoldOut(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		outcome Outcome
	}{
		{"duplicate", "DUPLICATE", OutcomeDuplicate},
		{"sold out", "SOLD_OUT", OutcomeSoldOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseAllocateReply([]any{tt.status, int64(0), int64(0)})

			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

func TestParseAllocateReply_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		reply any
	}{
		{"not an array", "OK"},
		{"wrong arity", []any{"OK", int64(1)}},
		{"unknown status", []any{"MAYBE", int64(1), int64(1)}},
		{"non-string status", []any{int64(1), int64(1), int64(1)}},
		{"non-numeric position", []any{"OK", []any{}, int64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAllocateReply(tt.reply)

			assert.ErrorIs(t, err, ErrMalformedReply)
		})
	}
}

func TestParseAllocateReply_StringNumbers(t *testing.T) {
	// Some script paths hand numbers back as bulk strings.
	res, err := parseAllocateReply([]any{"OK", "2", "41"})

	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Position)
	assert.Equal(t, int64(41), res.RemainingStock)
}

func TestEntriesFromZ_MillisecondRoundTrip(t *testing.T) {
	arrival := time.Date(2026, 3, 1, 10, 0, 0, 123e6, time.UTC)

	entries := entriesFromZ([]redis.Z{
		{Score: float64(arrival.UnixMilli()), Member: "req-1"},
		{Score: float64(arrival.Add(time.Millisecond).UnixMilli()), Member: "req-2"},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].RequesterID)
	assert.Equal(t, arrival, entries[0].ArrivalAt)
	assert.Equal(t, arrival.Add(time.Millisecond), entries[1].ArrivalAt)
}
