// Package field implements the byte-exact BN254 scalar field codec: the
// canonical little-endian wire form, the big-endian on-chain form, hex
// round-tripping, and the signed-to-field wraparound used for external
// (withdraw-negative) amounts.
package field

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Element is a reduced BN254 scalar field element. The zero value is the
// field's additive identity.
type Element = fr.Element

// Modulus returns the BN254 scalar field modulus p.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Errors mirror the taxonomy in the error handling design: no silent
// truncation, every malformed boundary value is rejected explicitly.
var (
	ErrInvalidHex     = fmt.Errorf("field: invalid hex")
	ErrOutOfRange     = fmt.Errorf("field: value out of range (>= p)")
	ErrLengthMismatch = fmt.Errorf("field: length mismatch")
)

// U64ToField embeds an unsigned 64-bit integer as a field element.
func U64ToField(x uint64) Element {
	var e Element
	e.SetUint64(x)
	return e
}

// HexToField parses a 0x-prefixed (or bare) hex string as a big-endian
// integer and embeds it in the field without reducing it. Returns ErrInvalidHex on malformed
// input and ErrOutOfRange if the parsed integer is >= p.
func HexToField(s string) (Element, error) {
	var e Element
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == "" || len(trimmed)%2 != 0 {
		return e, ErrInvalidHex
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return e, ErrInvalidHex
	}
	if v.Cmp(Modulus()) >= 0 {
		return e, ErrOutOfRange
	}
	e.SetBigInt(v)
	return e, nil
}

// FieldToHex renders f as a 0x-prefixed, 64-nibble, lower-case hex string of
// the big-endian canonical representative.
func FieldToHex(f Element) string {
	b := f.Bytes() // gnark-crypto returns big-endian canonical bytes
	return "0x" + fmt.Sprintf("%064x", new(big.Int).SetBytes(b[:]))
}

// FieldToLEBytes returns the canonical little-endian 32-byte wire form.
func FieldToLEBytes(f Element) [32]byte {
	be := f.Bytes()
	var le [32]byte
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	return le
}

// LEBytesToField parses a 32-byte little-endian buffer into a field element.
// Returns ErrLengthMismatch if b is not exactly 32 bytes, ErrOutOfRange if
// the represented integer is >= p.
func LEBytesToField(b []byte) (Element, error) {
	var e Element
	if len(b) != 32 {
		return e, ErrLengthMismatch
	}
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[i] = b[31-i]
	}
	v := new(big.Int).SetBytes(be[:])
	if v.Cmp(Modulus()) >= 0 {
		return e, ErrOutOfRange
	}
	e.SetBigInt(v)
	return e, nil
}

// BEBytesToField parses the 32-byte big-endian on-chain form.
func BEBytesToField(b []byte) (Element, error) {
	if len(b) != 32 {
		var z Element
		return z, ErrLengthMismatch
	}
	v := new(big.Int).SetBytes(b)
	if v.Cmp(Modulus()) >= 0 {
		var z Element
		return z, ErrOutOfRange
	}
	var e Element
	e.SetBigInt(v)
	return e, nil
}

// FieldToBEBytes returns the 32-byte big-endian on-chain form (gnark-crypto's
// canonical byte order, so no reversal is needed); FieldToLEBytes holds the
// one byte reversal, per the design note against the historical "works in
// one endianness" bug class.
func FieldToBEBytes(f Element) [32]byte {
	return f.Bytes()
}

// U256Source is the set of shapes normalize_u256_to_hex accepts.
type U256Source interface{}

// HiLo128 represents a {hi,lo} 128-bit-limb pair, big-endian limb order.
type HiLo128 struct {
	Hi uint64
	Lo uint64
}

// NormalizeU256ToHex accepts a hex string (with or without 0x prefix), a
// uint64, a non-negative int or *big.Int, a 32-byte buffer, or a HiLo128
// pair, and emits a canonical 64-nibble 0x big-endian hex string. It never
// silently truncates: outputs exceeding 256 bits are rejected.
func NormalizeU256ToHex(v U256Source) (string, error) {
	var n *big.Int
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
		if trimmed == "" {
			return "", ErrInvalidHex
		}
		parsed, ok := new(big.Int).SetString(trimmed, 16)
		if !ok {
			return "", ErrInvalidHex
		}
		n = parsed
	case []byte:
		if len(t) != 32 {
			return "", ErrLengthMismatch
		}
		n = new(big.Int).SetBytes(t)
	case [32]byte:
		n = new(big.Int).SetBytes(t[:])
	case HiLo128:
		n = new(big.Int).Lsh(new(big.Int).SetUint64(t.Hi), 64)
		n.Or(n, new(big.Int).SetUint64(t.Lo))
	case uint64:
		n = new(big.Int).SetUint64(t)
	case int:
		if t < 0 {
			return "", ErrOutOfRange
		}
		n = big.NewInt(int64(t))
	case *big.Int:
		if t.Sign() < 0 {
			return "", ErrOutOfRange
		}
		n = t
	default:
		return "", fmt.Errorf("field: unsupported u256 source type %T", v)
	}
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	if n.Cmp(max) >= 0 || n.Sign() < 0 {
		return "", ErrOutOfRange
	}
	return "0x" + fmt.Sprintf("%064x", n), nil
}

// SignedToField maps a signed integer onto the field: non-negative values
// embed directly; negative values wrap as p+i, matching the circuit's
// field-wrapped representative for a negative external (withdraw) amount.
func SignedToField(i *big.Int) Element {
	var e Element
	if i.Sign() >= 0 {
		e.SetBigInt(i)
		return e
	}
	wrapped := new(big.Int).Add(Modulus(), i)
	e.SetBigInt(wrapped)
	return e
}

// Uint64LEBytes encodes x as 8 little-endian bytes, used for the encrypted
// output plaintext layout (amount_le || blinding).
func Uint64LEBytes(x uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return b
}
