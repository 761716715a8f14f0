package kdbus

import "encoding/binary"

// itemHeaderSize is the fixed {size, type} prefix of every item record.
// An item's declared size field includes this header.
const itemHeaderSize = 16

// ItemType identifies the payload carried by one item record, shared
// across the command-make item stream and the metadata item stream.
type ItemType uint64

const (
	ItemInvalid ItemType = iota

	// Command-make items (decoded from bus-make / namespace-make payloads).
	ItemMakeName
	ItemMakeCgroup

	// Connection-lifecycle items.
	ItemConnName
	ItemAttachFlags
	ItemPoolSize

	// Metadata items, one per spec.md §4.2 class.
	ItemTimestamp
	ItemCreds
	ItemAuxGroups
	ItemName
	ItemTgidComm
	ItemPidComm
	ItemExe
	ItemCmdline
	ItemCaps
	ItemCgroup
	ItemAudit
	ItemSecLabel
	ItemConnDescription

	// ItemPayload is a placeholder record: a zero-length payload is legal
	// only for this type, signaling padding-only space in a message's
	// payload vector. Only ItemBuilder.AppendPlaceholder constructs one;
	// no other code in this package emits it, since message transport is
	// out of scope.
	ItemPayload
)

func (t ItemType) String() string {
	switch t {
	case ItemMakeName:
		return "make-name"
	case ItemMakeCgroup:
		return "make-cgroup"
	case ItemConnName:
		return "conn-name"
	case ItemAttachFlags:
		return "attach-flags"
	case ItemPoolSize:
		return "pool-size"
	case ItemTimestamp:
		return "timestamp"
	case ItemCreds:
		return "creds"
	case ItemAuxGroups:
		return "aux-groups"
	case ItemName:
		return "name"
	case ItemTgidComm:
		return "tgid-comm"
	case ItemPidComm:
		return "pid-comm"
	case ItemExe:
		return "exe"
	case ItemCmdline:
		return "cmdline"
	case ItemCaps:
		return "caps"
	case ItemCgroup:
		return "cgroup"
	case ItemAudit:
		return "audit"
	case ItemSecLabel:
		return "seclabel"
	case ItemConnDescription:
		return "conn-description"
	case ItemPayload:
		return "payload"
	default:
		return "invalid"
	}
}

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// IterateItems walks the item stream occupying buf[:streamLen], calling fn
// with each item's type and a slice bounding its payload (not copied — the
// slice aliases buf). It returns the number of residual padding bytes
// after the last item, which is always in [0, 8).
//
// Iteration fails if an item's declared size is smaller than the 16-byte
// header, if advancing past an item would cross streamLen, or if the
// bytes remaining after the last item are not a valid trailing pad (i.e.
// they are too few to be another item's header, but there are 8 or more
// of them).
func IterateItems(buf []byte, streamLen int, fn func(t ItemType, payload []byte) error) (residual int, err error) {
	off := 0
	for {
		remaining := streamLen - off
		if remaining < itemHeaderSize {
			if remaining >= 8 {
				return 0, errInvalidArgument("item stream residual padding exceeds 8 bytes")
			}
			return remaining, nil
		}

		size := int(binary.LittleEndian.Uint64(buf[off : off+8]))
		itemType := ItemType(binary.LittleEndian.Uint64(buf[off+8 : off+16]))

		if size < itemHeaderSize {
			return 0, errInvalidArgument("item size smaller than item header")
		}
		itemEnd := off + size
		if align8(itemEnd) > streamLen {
			return 0, errInvalidArgument("item extends past end of stream")
		}

		if err := fn(itemType, buf[off+itemHeaderSize:itemEnd]); err != nil {
			return 0, err
		}

		off = align8(itemEnd)
	}
}

// ItemBuilder accumulates item records into an append-only buffer that
// doubles in capacity as needed, mirroring the kernel broker's
// roundup_pow_of_two growth strategy for its metadata buffer.
type ItemBuilder struct {
	data []byte
	size int
}

// NewItemBuilder returns an empty builder with no preallocated capacity;
// the first Append grows it to the minimum capacity.
func NewItemBuilder() *ItemBuilder {
	return &ItemBuilder{}
}

const itemBuilderMinCap = 256

// Append reserves space for a new item of the given type and payload
// length and returns the payload region for the caller to fill in.
// Zero-length payloads are rejected; use AppendPlaceholder for the one
// type that legally carries an empty payload.
func (b *ItemBuilder) Append(t ItemType, payloadLen int) ([]byte, error) {
	if payloadLen <= 0 {
		return nil, errInvalidArgument("empty item payload")
	}
	return b.appendRaw(t, payloadLen)
}

// AppendBytes appends a fully-formed payload in one call.
func (b *ItemBuilder) AppendBytes(t ItemType, payload []byte) error {
	dst, err := b.Append(t, len(payload))
	if err != nil {
		return err
	}
	copy(dst, payload)
	return nil
}

// AppendPlaceholder appends a zero-length ItemPayload record.
func (b *ItemBuilder) AppendPlaceholder() error {
	_, err := b.appendRaw(ItemPayload, 0)
	return err
}

func (b *ItemBuilder) appendRaw(t ItemType, payloadLen int) ([]byte, error) {
	unpadded := itemHeaderSize + payloadLen
	padded := align8(unpadded)
	needed := b.size + padded
	b.grow(needed)

	binary.LittleEndian.PutUint64(b.data[b.size:], uint64(unpadded))
	binary.LittleEndian.PutUint64(b.data[b.size+8:], uint64(t))
	payload := b.data[b.size+itemHeaderSize : b.size+unpadded]
	b.size += padded
	return payload, nil
}

func (b *ItemBuilder) grow(needed int) {
	if len(b.data) >= needed {
		return
	}
	newCap := itemBuilderMinCap
	for newCap < needed {
		newCap *= 2
	}
	nd := make([]byte, newCap)
	copy(nd, b.data[:b.size])
	b.data = nd
}

// Bytes returns the accumulated item stream.
func (b *ItemBuilder) Bytes() []byte {
	return b.data[:b.size]
}

// Len returns the number of bytes accumulated so far.
func (b *ItemBuilder) Len() int {
	return b.size
}
