package data

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// ExportLedger serializes a participant's ledger snapshot to IPC bytes.
func ExportLedger(participant int, msgs []consensus.Message) ([]byte, error) {
	record, err := NewConverter().MessagesToRecord(participant, msgs)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return NewIPCWriter().SerializeToIPC(record)
}

// ExportLedgers serializes several participants' snapshots into one stream, one record
// per participant in index order.
func ExportLedgers(ledgers [][]consensus.Message) ([]byte, error) {
	converter := NewConverter()
	records := make([]arrow.Record, 0, len(ledgers))
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	for participant, msgs := range ledgers {
		record, err := converter.MessagesToRecord(participant, msgs)
		if err != nil {
			return nil, fmt.Errorf("participant %d: %w", participant, err)
		}
		records = append(records, record)
	}
	return NewIPCWriter().SerializeMultipleToIPC(records)
}

// LedgerRow is one decoded message with the participant that recorded it.
type LedgerRow struct {
	ParticipantID int
	Message       consensus.Message
}

// ImportLedgers decodes an IPC stream produced by ExportLedger or ExportLedgers.
func ImportLedgers(data []byte) ([]LedgerRow, error) {
	records, err := NewIPCWriter().DeserializeAllFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	converter := NewConverter()
	var rows []LedgerRow
	for _, record := range records {
		msgs, err := converter.RecordToMessages(record)
		if err != nil {
			return nil, err
		}
		participants := record.Column(colParticipantID).(*array.Int32)
		for i, msg := range msgs {
			rows = append(rows, LedgerRow{ParticipantID: int(participants.Value(i)), Message: msg})
		}
	}
	return rows, nil
}
