// Package chaintypes holds the fixed-width wire identifiers of spec §3:
// Address and Signature. Equality and hashing are by byte content, the way
// the teacher's common.Hash/common.Address behave, and both types implement
// database/sql and encoding/json so they flow straight through gorm and the
// redis JSON envelopes without a translation layer.
package chaintypes

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// AddressLength is the fixed width of a chain account identifier.
const AddressLength = 32

// SignatureLength is the fixed width of a transaction identifier.
const SignatureLength = 64

// Address is a 32-byte opaque account identifier.
type Address [AddressLength]byte

// ZeroAddress is the all-zero sentinel, never a valid on-chain account.
var ZeroAddress Address

// BytesToAddress right-aligns b into a fixed-width Address, truncating from
// the left if b is longer than AddressLength.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress decodes a 0x-prefixed hex string into an Address.
func HexToAddress(s string) (Address, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Address{}, errors.Wrapf(err, "chaintypes: invalid address hex %q", s)
	}
	return BytesToAddress(b), nil
}

// MustHexToAddress panics on malformed input; reserved for static tables
// such as the CEX directory where the literals are known-good at compile time.
func MustHexToAddress(s string) Address {
	a, err := HexToAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) Bytes() []byte { return a[:] }

func (a Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	addr, err := HexToAddress(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Value implements driver.Valuer so Address columns round-trip through gorm
// as text, matching spec §6 ("addresses stored as text").
func (a Address) Value() (driver.Value, error) { return a.String(), nil }

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	s, ok := asString(src)
	if !ok {
		return errors.Errorf("chaintypes: cannot scan %T into Address", src)
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	addr, err := HexToAddress(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Signature is a fixed-width transaction identifier; equality is structural.
type Signature [SignatureLength]byte

func BytesToSignature(b []byte) Signature {
	var s Signature
	if len(b) > SignatureLength {
		b = b[len(b)-SignatureLength:]
	}
	copy(s[SignatureLength-len(b):], b)
	return s
}

func HexToSignature(s string) (Signature, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Signature{}, errors.Wrapf(err, "chaintypes: invalid signature hex %q", s)
	}
	return BytesToSignature(b), nil
}

func (s Signature) String() string { return "0x" + hex.EncodeToString(s[:]) }

func (s Signature) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	sig, err := HexToSignature(str)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func asString(src interface{}) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
