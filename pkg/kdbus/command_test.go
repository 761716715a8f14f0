package kdbus

import (
	"encoding/binary"
	"testing"

	"github.com/amigadave/kdbus/pkg/types"
	"github.com/stretchr/testify/require"
)

// buildBusMake assembles a raw bus-make command buffer: the fixed
// {size, bloom_size, flags} header followed by whatever items the caller
// supplies, via an ItemBuilder.
func buildBusMake(bloomSize, flags uint64, items *ItemBuilder) []byte {
	total := busMakeHeaderSize + items.Len()
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(total))
	binary.LittleEndian.PutUint64(buf[8:16], bloomSize)
	binary.LittleEndian.PutUint64(buf[16:24], flags)
	copy(buf[busMakeHeaderSize:], items.Bytes())
	return buf
}

func nameItems(names ...string) *ItemBuilder {
	b := NewItemBuilder()
	for _, n := range names {
		if err := b.AppendBytes(ItemMakeName, []byte(n+"\x00")); err != nil {
			panic(err)
		}
	}
	return b
}

func TestDecodeBusMakeSuccess(t *testing.T) {
	buf := buildBusMake(64, 0, nameItems("1000-foo"))
	got, err := DecodeBusMake(buf)
	require.NoError(t, err)
	require.Equal(t, "1000-foo", got.Name)
	require.Equal(t, uint64(64), got.BloomSize)
}

func TestDecodeBusMakeDuplicateNameItem(t *testing.T) {
	buf := buildBusMake(64, 0, nameItems("1000-foo", "1000-bar"))
	_, err := DecodeBusMake(buf)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeAlreadyExists))
}

func TestDecodeBusMakeBloomSizeBounds(t *testing.T) {
	// 7: below the minimum; 20: not a multiple of 8; 32768: above the maximum.
	cases := []uint64{7, 20, 32768}
	for _, bs := range cases {
		buf := buildBusMake(bs, 0, nameItems("1000-foo"))
		_, err := DecodeBusMake(buf)
		require.Error(t, err, "bloom_size %d should be rejected", bs)
		require.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
	}
}

func TestDecodeBusMakeSizeBounds(t *testing.T) {
	tooSmall := make([]byte, 4)
	_, err := DecodeBusMake(tooSmall)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeTooSmall))

	oversized := make([]byte, 65536)
	binary.LittleEndian.PutUint64(oversized[0:8], uint64(len(oversized)))
	_, err = DecodeBusMake(oversized)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeTooLarge))
}

func TestDecodeBusMakeMissingName(t *testing.T) {
	buf := buildBusMake(64, 0, NewItemBuilder())
	_, err := DecodeBusMake(buf)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeBadMessageFormat))
}

func TestDecodeBusMakeUnknownItemType(t *testing.T) {
	b := NewItemBuilder()
	require.NoError(t, b.AppendBytes(ItemMakeName, []byte("1000-foo\x00")))
	require.NoError(t, b.AppendBytes(ItemTimestamp, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	buf := buildBusMake(64, 0, b)
	_, err := DecodeBusMake(buf)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeNotSupported))
}

func TestDecodeBusMakeNameTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long[:64] {
		long[i] = 'a'
	}
	long[64] = 0
	b := NewItemBuilder()
	require.NoError(t, b.AppendBytes(ItemMakeName, long))
	buf := buildBusMake(64, 0, b)
	_, err := DecodeBusMake(buf)
	require.Error(t, err)
	require.True(t, types.IsErrCode(err, types.ErrCodeNameTooLong))
}

func TestDecodeNamespaceMakeSuccess(t *testing.T) {
	b := nameItems("child")
	total := namespaceMakeHeaderSize + b.Len()
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(total))
	copy(buf[namespaceMakeHeaderSize:], b.Bytes())

	got, err := DecodeNamespaceMake(buf)
	require.NoError(t, err)
	require.Equal(t, "child", got.Name)
}
