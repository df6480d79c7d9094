package commitment

import (
	"bytes"
	"encoding/json"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// ProtocolID tags every commitment script. Changing it breaks retrieval of every event committed before the change.
const ProtocolID = "Event Logging"

const (
	// MaxChunkSize is the largest single data push the script interpreter accepts.
	MaxChunkSize = txscript.MaxScriptElementSize
	// MaxScriptSize is the largest script the interpreter will execute, so anything above it would lock the
	// commitment output forever.
	MaxScriptSize = txscript.MaxScriptSize
)

// Script is a commitment locking script:
//
//	<owner pubkey> OP_CHECKSIG <ProtocolID> <payload chunk>... OP_2DROP... [OP_DROP]
//
// The owner can spend it with a single signature, and the pushed fields are dropped before the script ends.
type Script []byte

func BuildScript(fields Fields, owner *btcec.PublicKey) (Script, error) {
	if owner == nil {
		return nil, &EncodingError{Reason: "owner public key is required"}
	}

	payload, err := fields.canonicalPayload()
	if err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}

	ownerKey := owner.SerializeCompressed()
	chunks := splitChunks(payload, MaxChunkSize)

	if size := estimateSize(ownerKey, chunks); size > MaxScriptSize {
		return nil, &EncodingError{Reason: "payload too large", Size: size, Limit: MaxScriptSize}
	}

	builder := txscript.NewScriptBuilder().
		AddData(ownerKey).
		AddOp(txscript.OP_CHECKSIG).
		AddData([]byte(ProtocolID))

	for _, chunk := range chunks {
		builder.AddData(chunk)
	}

	// Tag plus every chunk
	for remaining := 1 + len(chunks); remaining > 0; remaining -= 2 {
		if remaining == 1 {
			builder.AddOp(txscript.OP_DROP)
		} else {
			builder.AddOp(txscript.OP_2DROP)
		}
	}

	script, err := builder.Script()
	if err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}

	return script, nil
}

func Decode(script Script) (Fields, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	// Everything before the tag is the locking condition
	var tagFound bool
	for tokenizer.Next() {
		data, ok := pushedBytes(tokenizer.Opcode(), tokenizer.Data())
		if ok && string(data) == ProtocolID {
			tagFound = true
			break
		}
	}

	if err := tokenizer.Err(); err != nil {
		return Fields{}, decodingError("malformed script", err)
	}

	if !tagFound {
		return Fields{}, decodingError("protocol tag not found", nil)
	}

	var payload bytes.Buffer
	pushes := 1
	dropped := 0
	for tokenizer.Next() {
		data, ok := pushedBytes(tokenizer.Opcode(), tokenizer.Data())
		if ok && dropped == 0 {
			payload.Write(data)
			pushes++
			continue
		}

		switch tokenizer.Opcode() {
		case txscript.OP_DROP:
			dropped++
		case txscript.OP_2DROP:
			dropped += 2
		default:
			return Fields{}, decodingError("unexpected opcode in payload", nil)
		}

		if dropped >= pushes {
			break
		}
	}

	if err := tokenizer.Err(); err != nil {
		return Fields{}, decodingError("malformed script", err)
	}

	if pushes == 1 {
		return Fields{}, decodingError("empty payload", nil)
	}

	if dropped != pushes {
		return Fields{}, decodingError("payload fields are not dropped", nil)
	}

	var fields Fields
	if err := json.Unmarshal(payload.Bytes(), &fields); err != nil {
		return Fields{}, decodingError("invalid payload", err)
	}

	if fields.Version < 1 || fields.Version > FormatVersion {
		return Fields{}, decodingError("unsupported format version", nil)
	}

	return fields, nil
}

// OwnerKey returns the serialized public key a commitment script is locked to, or false if the script is not a
// commitment script.
func OwnerKey(script []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	if !tokenizer.Next() || len(tokenizer.Data()) != btcec.PubKeyBytesLenCompressed {
		return nil, false
	}
	key := tokenizer.Data()

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return nil, false
	}

	if !tokenizer.Next() {
		return nil, false
	}

	tag, ok := pushedBytes(tokenizer.Opcode(), tokenizer.Data())
	if !ok || string(tag) != ProtocolID {
		return nil, false
	}

	return key, true
}

func IsCommitmentScript(script []byte) bool {
	_, ok := OwnerKey(script)
	return ok
}

// pushedBytes returns the bytes an opcode places on the stack, if it is a push. The script builder encodes
// single-byte pushes as small integer opcodes, so those are mapped back here.
func pushedBytes(opcode byte, data []byte) ([]byte, bool) {
	switch {
	case opcode == txscript.OP_0:
		return []byte{}, true
	case opcode <= txscript.OP_PUSHDATA4:
		return data, true
	case opcode == txscript.OP_1NEGATE:
		return []byte{0x81}, true
	case opcode >= txscript.OP_1 && opcode <= txscript.OP_16:
		return []byte{opcode - (txscript.OP_1 - 1)}, true
	default:
		return nil, false
	}
}

func splitChunks(payload []byte, size int) [][]byte {
	chunks := make([][]byte, 0, len(payload)/size+1)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}

	if len(payload) > 0 {
		chunks = append(chunks, payload)
	}

	return chunks
}

// estimateSize is an upper bound on the serialized script size.
func estimateSize(ownerKey []byte, chunks [][]byte) int {
	size := pushSize(len(ownerKey)) + 1 + pushSize(len(ProtocolID))
	for _, chunk := range chunks {
		size += pushSize(len(chunk))
	}

	return size + (len(chunks)+2)/2
}

func pushSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1 + n
	case n <= 0xff:
		return 2 + n
	case n <= 0xffff:
		return 3 + n
	default:
		return 5 + n
	}
}
