package kdbus

import (
	"encoding/binary"
	"unicode/utf8"
)

// maxCommandSize is the largest declared command size the decoder
// accepts (spec.md §5: "Command size ≤ 64 KiB − 1").
const maxCommandSize = 64*1024 - 1

// busMakeHeaderSize is the fixed portion of a bus-make command, preceding
// its item stream: {size, bloom_size, flags}, three u64 fields.
const busMakeHeaderSize = 24

// DecodedBusMake is the validated, owned result of parsing a bus-make
// command buffer. The buffer it was decoded from is not retained; Name is
// copied out so later stages never re-parse the wire bytes.
type DecodedBusMake struct {
	Name      string
	BloomSize uint64
	CgroupID  uint64
	Flags     uint64
}

// DecodeBusMake validates and parses a bus-make command buffer per
// spec.md §4.8: declared size bounds, item-stream iteration with
// per-type-uniqueness, and the required name item.
func DecodeBusMake(buf []byte) (*DecodedBusMake, error) {
	if len(buf) < busMakeHeaderSize {
		return nil, errTooSmall("bus-make command smaller than fixed header")
	}
	if len(buf) > maxCommandSize {
		return nil, errTooLarge("bus-make command exceeds 64 KiB - 1")
	}

	size := binary.LittleEndian.Uint64(buf[0:8])
	bloomSize := binary.LittleEndian.Uint64(buf[8:16])
	flags := binary.LittleEndian.Uint64(buf[16:24])
	if size != uint64(len(buf)) {
		return nil, errBadMessage("declared command size does not match buffer length")
	}

	var (
		name     string
		haveName bool
		cgroupID uint64
		haveCG   bool
	)

	itemBuf := buf[busMakeHeaderSize:]
	_, err := IterateItems(itemBuf, len(itemBuf), func(t ItemType, payload []byte) error {
		switch t {
		case ItemMakeName:
			if haveName {
				return errAlreadyExists("duplicate make-name item")
			}
			n, err := validateMakeName(payload)
			if err != nil {
				return err
			}
			name = n
			haveName = true
			return nil
		case ItemMakeCgroup:
			if haveCG {
				return errAlreadyExists("duplicate make-cgroup item")
			}
			if len(payload) != 8 {
				return errInvalidArgument("make-cgroup payload must be 8 bytes")
			}
			cgroupID = binary.LittleEndian.Uint64(payload)
			haveCG = true
			return nil
		default:
			return errNotSupported("unrecognized bus-make item type")
		}
	})
	if err != nil {
		return nil, err
	}
	if !haveName {
		return nil, errBadMessage("bus-make command missing required name item")
	}
	if err := validateBloomSize(bloomSize); err != nil {
		return nil, err
	}

	return &DecodedBusMake{Name: name, BloomSize: bloomSize, CgroupID: cgroupID, Flags: flags}, nil
}

// validateMakeName enforces spec.md §4.8/§7's name-item rules: payload of
// 2-64 bytes including a trailing NUL, the content before it valid UTF-8
// (ASCII is a subset).
func validateMakeName(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errInvalidArgument("empty item payload")
	}
	if len(payload) < 2 {
		return "", errInvalidArgument("name payload too short")
	}
	if len(payload) > 64 {
		return "", errNameTooLong("name payload exceeds 64 bytes including NUL")
	}
	if payload[len(payload)-1] != 0 {
		return "", errInvalidArgument("name payload not NUL-terminated")
	}
	name := payload[:len(payload)-1]
	if !utf8.Valid(name) {
		return "", errInvalidArgument("name is not valid UTF-8")
	}
	return string(name), nil
}

// namespaceMakeHeaderSize is the fixed portion of a namespace-make
// command: just its own size field.
const namespaceMakeHeaderSize = 8

// DecodedNamespaceMake is the validated result of parsing a
// namespace-make command buffer.
type DecodedNamespaceMake struct {
	Name string
}

// DecodeNamespaceMake validates and parses a namespace-make command
// buffer: a size header followed by a single required make-name item.
func DecodeNamespaceMake(buf []byte) (*DecodedNamespaceMake, error) {
	if len(buf) < namespaceMakeHeaderSize {
		return nil, errTooSmall("namespace-make command smaller than fixed header")
	}
	if len(buf) > maxCommandSize {
		return nil, errTooLarge("namespace-make command exceeds 64 KiB - 1")
	}
	size := binary.LittleEndian.Uint64(buf[0:8])
	if size != uint64(len(buf)) {
		return nil, errBadMessage("declared command size does not match buffer length")
	}

	var (
		name     string
		haveName bool
	)
	itemBuf := buf[namespaceMakeHeaderSize:]
	_, err := IterateItems(itemBuf, len(itemBuf), func(t ItemType, payload []byte) error {
		if t != ItemMakeName {
			return errNotSupported("unrecognized namespace-make item type")
		}
		if haveName {
			return errAlreadyExists("duplicate make-name item")
		}
		n, err := validateMakeName(payload)
		if err != nil {
			return err
		}
		name = n
		haveName = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveName {
		return nil, errBadMessage("namespace-make command missing required name item")
	}
	return &DecodedNamespaceMake{Name: name}, nil
}
