package data

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// Converter turns ledger snapshots into Arrow records and back.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    LedgerSchema(),
	}
}

// NewConverterWithAllocator creates a Converter using allocator, e.g. a checked allocator in tests.
func NewConverterWithAllocator(allocator memory.Allocator) *Converter {
	return &Converter{
		allocator: allocator,
		schema:    LedgerSchema(),
	}
}

// MessagesToRecord converts the ledger of participant into a record. An empty slice yields
// an empty record. The caller must Release the result.
func (c *Converter) MessagesToRecord(participant int, msgs []consensus.Message) (arrow.Record, error) {
	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	participantBuilder := builder.Field(colParticipantID).(*array.Int32Builder)
	roundBuilder := builder.Field(colRound).(*array.Int64Builder)
	phaseBuilder := builder.Field(colPhase).(*array.Int8Builder)
	senderBuilder := builder.Field(colSenderID).(*array.Int32Builder)
	valueBuilder := builder.Field(colValue).(*array.StringBuilder)

	builder.Reserve(len(msgs))
	for _, msg := range msgs {
		if !msg.Value.IsValid() {
			return nil, fmt.Errorf("message %s: %w", msg, consensus.ErrInvalidValue)
		}
		participantBuilder.Append(int32(participant))
		roundBuilder.Append(int64(msg.Round))
		phaseBuilder.Append(int8(msg.Phase))
		senderBuilder.Append(int32(msg.SenderID))
		if msg.Value == consensus.Unset {
			valueBuilder.AppendNull()
		} else {
			valueBuilder.Append(msg.Value.String())
		}
	}

	return builder.NewRecord(), nil
}

// RecordToMessages converts a ledger record back into messages, in row order.
func (c *Converter) RecordToMessages(record arrow.Record) ([]consensus.Message, error) {
	if !record.Schema().Equal(c.schema) {
		return nil, fmt.Errorf("unexpected schema: %s", record.Schema())
	}

	rounds := record.Column(colRound).(*array.Int64)
	phases := record.Column(colPhase).(*array.Int8)
	senders := record.Column(colSenderID).(*array.Int32)
	values := record.Column(colValue).(*array.String)

	msgs := make([]consensus.Message, 0, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		value := consensus.Unset
		if values.IsValid(i) {
			v, err := consensus.ParseValue(values.Value(i))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			value = v
		}
		msgs = append(msgs, consensus.Message{
			SenderID: int(senders.Value(i)),
			Round:    int(rounds.Value(i)),
			Phase:    consensus.Phase(phases.Value(i)),
			Value:    value,
		})
	}
	return msgs, nil
}
