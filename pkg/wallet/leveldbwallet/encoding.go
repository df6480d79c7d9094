package leveldbwallet

import (
	"encoding/binary"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"time"
)

type outputRecord struct {
	Output     funding.FundingOutput
	Status     wallet.Status
	ReservedAt time.Time
}

var statusCodes = map[wallet.Status]byte{
	wallet.StatusSpendable: 0,
	wallet.StatusReserved:  1,
	wallet.StatusSpent:     2,
}

// Layout: txid (32) | index (4) | amount (8) | status (1) | reserved at length (2) | reserved at | raw tx
func marshalOutput(record outputRecord) ([]byte, error) {
	status, ok := statusCodes[record.Status]
	if !ok {
		return nil, fmt.Errorf("unknown output status %q", record.Status)
	}

	var reservedAt []byte
	if !record.ReservedAt.IsZero() {
		var err error
		if reservedAt, err = record.ReservedAt.MarshalBinary(); err != nil {
			return nil, err
		}
	}

	return join(
		record.Output.TxID[:],
		uint32ToBytes(record.Output.Index),
		int64ToBytes(record.Output.Amount),
		[]byte{status},
		uint16ToBytes(uint16(len(reservedAt))),
		reservedAt,
		record.Output.RawTx,
	), nil
}

func unmarshalOutput(bytes []byte) (outputRecord, error) {
	const fixedLen = chainhash.HashSize + 4 + 8 + 1 + 2
	if len(bytes) < fixedLen {
		return outputRecord{}, fmt.Errorf("invalid bytes length for output")
	}

	var record outputRecord
	offset := 0

	copy(record.Output.TxID[:], bytes[:chainhash.HashSize])
	offset += chainhash.HashSize

	record.Output.Index = binary.LittleEndian.Uint32(bytes[offset : offset+4])
	offset += 4

	record.Output.Amount = bytesToInt(bytes[offset : offset+8])
	offset += 8

	statusCode := bytes[offset]
	offset++

	found := false
	for status, code := range statusCodes {
		if code == statusCode {
			record.Status = status
			found = true
			break
		}
	}

	if !found {
		return outputRecord{}, fmt.Errorf("unknown output status code %d", statusCode)
	}

	reservedAtLen := int(binary.LittleEndian.Uint16(bytes[offset : offset+2]))
	offset += 2

	if len(bytes) < offset+reservedAtLen {
		return outputRecord{}, fmt.Errorf("invalid bytes length for output")
	}

	if reservedAtLen > 0 {
		if err := record.ReservedAt.UnmarshalBinary(bytes[offset : offset+reservedAtLen]); err != nil {
			return outputRecord{}, err
		}
	}
	offset += reservedAtLen

	record.Output.RawTx = copyBytes(bytes[offset:])

	return record, nil
}

// Layout: txid (32) | index (4) | amount (8) | locking script
func marshalCommitment(output funding.CommitmentOutput) []byte {
	return join(
		output.TxID[:],
		uint32ToBytes(output.Index),
		int64ToBytes(output.Amount),
		output.Script,
	)
}

func unmarshalCommitment(bytes []byte) (funding.CommitmentOutput, error) {
	const fixedLen = chainhash.HashSize + 4 + 8
	if len(bytes) < fixedLen {
		return funding.CommitmentOutput{}, fmt.Errorf("invalid bytes length for commitment")
	}

	var output funding.CommitmentOutput
	copy(output.TxID[:], bytes[:chainhash.HashSize])
	output.Index = binary.LittleEndian.Uint32(bytes[chainhash.HashSize : chainhash.HashSize+4])
	output.Amount = bytesToInt(bytes[chainhash.HashSize+4 : fixedLen])
	output.Script = copyBytes(bytes[fixedLen:])

	return output, nil
}

func join(bytes ...[]byte) []byte {
	var result []byte
	for _, b := range bytes {
		result = append(result, b...)
	}
	return result
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func uint16ToBytes(i uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return b
}

func uint32ToBytes(i uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return b
}

func int64ToBytes(i int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(i))
	return b
}

func bytesToInt(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func bz(s string) []byte {
	return []byte(s)
}
