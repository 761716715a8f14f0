package kdbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItemBuilderRoundTrip(t *testing.T) {
	b := NewItemBuilder()
	require.NoError(t, b.AppendBytes(ItemName, []byte("org.example.foo\x00")))
	require.NoError(t, b.AppendBytes(ItemCgroup, []byte("1:name=systemd:/")))

	var got []struct {
		typ ItemType
		buf []byte
	}
	residual, err := IterateItems(b.Bytes(), b.Len(), func(typ ItemType, payload []byte) error {
		cp := append([]byte(nil), payload...)
		got = append(got, struct {
			typ ItemType
			buf []byte
		}{typ, cp})
		return nil
	})
	require.NoError(t, err)
	require.Less(t, residual, 8)
	require.GreaterOrEqual(t, residual, 0)

	require.Len(t, got, 2)
	require.Equal(t, ItemName, got[0].typ)
	require.Equal(t, "org.example.foo\x00", string(got[0].buf))
	require.Equal(t, ItemCgroup, got[1].typ)
	require.Equal(t, "1:name=systemd:/", string(got[1].buf))
}

func TestItemBuilderGrowsCapacity(t *testing.T) {
	b := NewItemBuilder()
	big := make([]byte, 1000)
	require.NoError(t, b.AppendBytes(ItemCmdline, big))
	require.GreaterOrEqual(t, len(b.data), b.Len())
	require.Equal(t, align8(itemHeaderSize+len(big)), b.Len())
}

func TestAppendRejectsEmptyPayload(t *testing.T) {
	b := NewItemBuilder()
	_, err := b.Append(ItemName, 0)
	require.Error(t, err)
}

func TestAppendPlaceholderAllowsEmptyPayload(t *testing.T) {
	b := NewItemBuilder()
	require.NoError(t, b.AppendPlaceholder())
	require.Equal(t, itemHeaderSize, b.Len())
}

func TestIterateItemsRejectsUndersizedHeader(t *testing.T) {
	buf := make([]byte, 16)
	// declared size smaller than the 16-byte header itself
	buf[0] = 4
	_, err := IterateItems(buf, 16, func(ItemType, []byte) error { return nil })
	require.Error(t, err)
}

func TestIterateItemsRejectsOverrun(t *testing.T) {
	b := NewItemBuilder()
	require.NoError(t, b.AppendBytes(ItemName, []byte("x")))
	// truncate the stream so the item's padded size crosses the end
	_, err := IterateItems(b.Bytes(), b.Len()-4, func(ItemType, []byte) error { return nil })
	require.Error(t, err)
}

func TestIterateItemsRejectsLargeResidual(t *testing.T) {
	b := NewItemBuilder()
	require.NoError(t, b.AppendBytes(ItemName, []byte("x")))
	// pad well beyond the 8-byte slack the codec tolerates
	padded := append(b.Bytes(), make([]byte, 16)...)
	_, err := IterateItems(padded, len(padded), func(ItemType, []byte) error { return nil })
	require.Error(t, err)
}

func TestIterateItemsEmptyStream(t *testing.T) {
	residual, err := IterateItems(nil, 0, func(ItemType, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 0, residual)
}

func TestAlign8(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 16: 16}
	for in, want := range cases {
		require.Equal(t, want, align8(in))
	}
}
