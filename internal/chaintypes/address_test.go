package chaintypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullHex(b byte, n int) string {
	return "0x" + strings.Repeat(string("0123456789abcdef"[b%16])+string("0123456789abcdef"[b%16]), n)
}

func TestHexToAddress_RoundTrip(t *testing.T) {
	addr, err := HexToAddress(fullHex(0xab, AddressLength))
	require.NoError(t, err)
	assert.Equal(t, fullHex(0xab, AddressLength), addr.String())
}

func TestAddress_MarshalUnmarshalJSON(t *testing.T) {
	orig := MustHexToAddress(fullHex(0x11, AddressLength))
	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Address
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, orig, got)
}

func TestAddress_ValueScan(t *testing.T) {
	orig := MustHexToAddress(fullHex(0xff, AddressLength))
	v, err := orig.Value()
	require.NoError(t, err)

	var scanned Address
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, orig, scanned)

	var empty Address
	require.NoError(t, empty.Scan(""))
	assert.True(t, empty.IsZero())
}

func TestBytesToAddress_TruncatesFromLeft(t *testing.T) {
	long := make([]byte, AddressLength+4)
	for i := range long {
		long[i] = byte(i)
	}
	addr := BytesToAddress(long)
	assert.Equal(t, long[4:], addr.Bytes())
}

func TestBytesToAddress_PadsShortInput(t *testing.T) {
	addr := BytesToAddress([]byte{0x01, 0x02})
	assert.Equal(t, byte(0x01), addr[AddressLength-2])
	assert.Equal(t, byte(0x02), addr[AddressLength-1])
	for i := 0; i < AddressLength-2; i++ {
		assert.Equal(t, byte(0), addr[i])
	}
}

func TestSignature_RoundTrip(t *testing.T) {
	sig, err := HexToSignature(fullHex(0xcd, SignatureLength))
	require.NoError(t, err)

	data, err := json.Marshal(sig)
	require.NoError(t, err)
	var got Signature
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sig, got)
}

func TestMustHexToAddress_PanicsOnBadInput(t *testing.T) {
	assert.Panics(t, func() {
		MustHexToAddress("0xzz")
	})
}

func TestAddress_IsZero(t *testing.T) {
	var a Address
	assert.True(t, a.IsZero())
	a = MustHexToAddress(fullHex(0x01, AddressLength))
	assert.False(t, a.IsZero())
}
