package data

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column indexes of LedgerSchema.
const (
	colParticipantID = iota
	colRound
	colPhase
	colSenderID
	colValue
)

// LedgerSchema returns the Arrow schema for a ledger snapshot, one row per message.
//
// Fields:
//   - participant_id: int32 - Participant whose ledger the row belongs to
//   - round: int64 - Round number
//   - phase: int8 - 1 (propose) or 2 (confirm)
//   - sender_id: int32 - Sender of the vote
//   - value: string (nullable) - "0", "1" or "?"; null when unset
func LedgerSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "participant_id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "round", Type: arrow.PrimitiveTypes.Int64},
			{Name: "phase", Type: arrow.PrimitiveTypes.Int8},
			{Name: "sender_id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "value", Type: arrow.BinaryTypes.String, Nullable: true},
		},
		nil,
	)
}
