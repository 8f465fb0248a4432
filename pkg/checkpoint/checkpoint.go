// Package checkpoint implements the fixed-width, lexicographically ordered
// position token used to order events across one or many chains.
//
// A checkpoint is a 79-character decimal string made of six zero-padded
// fields: blockTimestamp(10) | chainID(16) | blockNumber(20) |
// transactionIndex(16) | eventType(1) | eventIndex(16). String comparison of
// two checkpoints is equivalent to comparing the six fields as a tuple.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	widthTimestamp        = 10
	widthChainID          = 16
	widthBlockNumber      = 20
	widthTransactionIndex = 16
	widthEventType        = 1
	widthEventIndex       = 16

	// Len is the total fixed width of an encoded checkpoint.
	Len = widthTimestamp + widthChainID + widthBlockNumber + widthTransactionIndex + widthEventType + widthEventIndex
)

// EventType is the stable small integer tag used to break ties between
// events in the same transaction. Values must stay in [0, 9] to fit the
// single-digit eventType field.
type EventType uint8

const (
	EventTypeBlock EventType = iota
	EventTypeSetup
	EventTypeTransaction
	EventTypeTransfer
	EventTypeLog
	EventTypeTrace
)

// Fields is the decoded representation of a checkpoint.
type Fields struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventType        EventType
	EventIndex       uint64
}

// Checkpoint is an opaque, totally ordered position token. The zero value is
// not a valid checkpoint; use Zero() or Encode.
type Checkpoint string

// Zero is the sentinel checkpoint used by setup events: it sorts before
// every real event.
var Zero = Checkpoint(strings.Repeat("0", Len))

// Max is the sentinel checkpoint used by shadow-table triggers to mark rows
// whose real checkpoint has not yet been stamped: it sorts after every real
// event.
var Max = Checkpoint(strings.Repeat("9", Len))

// ErrInvalidCheckpoint is returned by Decode when the input is not a
// well-formed checkpoint string.
type ErrInvalidCheckpoint struct {
	Input  string
	Reason string
}

func (e *ErrInvalidCheckpoint) Error() string {
	return fmt.Sprintf("invalid checkpoint %q: %s", e.Input, e.Reason)
}

// Encode packs fields into their fixed-width checkpoint representation.
func Encode(f Fields) Checkpoint {
	var b strings.Builder
	b.Grow(Len)
	writePadded(&b, f.BlockTimestamp, widthTimestamp)
	writePadded(&b, f.ChainID, widthChainID)
	writePadded(&b, f.BlockNumber, widthBlockNumber)
	writePadded(&b, f.TransactionIndex, widthTransactionIndex)
	writePadded(&b, uint64(f.EventType), widthEventType)
	writePadded(&b, f.EventIndex, widthEventIndex)
	return Checkpoint(b.String())
}

func writePadded(b *strings.Builder, v uint64, width int) {
	s := strconv.FormatUint(v, 10)
	for i := len(s); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}

// Decode unpacks a checkpoint string into its fields. It fails with
// ErrInvalidCheckpoint if the string is not exactly Len bytes of digits.
func Decode(s string) (Fields, error) {
	if len(s) != Len {
		return Fields{}, &ErrInvalidCheckpoint{Input: s, Reason: fmt.Sprintf("length must be %d, got %d", Len, len(s))}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Fields{}, &ErrInvalidCheckpoint{Input: s, Reason: "contains non-digit characters"}
		}
	}

	off := 0
	readField := func(width int) uint64 {
		chunk := s[off : off+width]
		off += width
		v, _ := strconv.ParseUint(chunk, 10, 64)
		return v
	}

	ts := readField(widthTimestamp)
	chainID := readField(widthChainID)
	blockNumber := readField(widthBlockNumber)
	txIndex := readField(widthTransactionIndex)
	eventType := readField(widthEventType)
	eventIndex := readField(widthEventIndex)

	return Fields{
		BlockTimestamp:   ts,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		EventType:        EventType(eventType),
		EventIndex:       eventIndex,
	}, nil
}

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater than b.
// Because checkpoints are fixed-width zero-padded decimal strings, ordinary
// string comparison already yields tuple order; Compare exists so call sites
// don't need to know that.
func Compare(a, b Checkpoint) int {
	return strings.Compare(string(a), string(b))
}

// Less reports whether a sorts strictly before b.
func Less(a, b Checkpoint) bool {
	return Compare(a, b) < 0
}

// String implements fmt.Stringer.
func (c Checkpoint) String() string {
	return string(c)
}

// Valid reports whether c decodes successfully.
func (c Checkpoint) Valid() bool {
	_, err := Decode(string(c))
	return err == nil
}
