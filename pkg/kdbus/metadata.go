package kdbus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/amigadave/kdbus/pkg/types"
)

// AttachMask selects which metadata classes a collector should gather,
// one bit per class from spec.md §4.2's table.
type AttachMask uint64

const (
	AttachTimestamp AttachMask = 1 << iota
	AttachCreds
	AttachAuxGroups
	AttachNames
	AttachComm
	AttachExe
	AttachCmdline
	AttachCaps
	AttachCgroup
	AttachAudit
	AttachSecLabel
	AttachConnName

	attachBitCount = 12
)

// AttachAll is the union of every defined class.
const AttachAll AttachMask = (1 << attachBitCount) - 1

// Metadata accumulates an item stream describing one sender's identity at
// send time, pinned to the pid and user namespaces the sender lived in
// when collection started. It is collected incrementally and
// idempotently: requesting a class already attached is a no-op, and a
// class that fails to collect leaves its bit unset so a later request for
// the same mask retries only the classes still missing.
type Metadata struct {
	mu       sync.Mutex
	host     HostEnv
	pidNS    NamespaceHandle
	userNS   NamespaceHandle
	buf      *ItemBuilder
	attached AttachMask
	connName string
}

// NewMetadata pins the namespaces the calling process currently lives in
// and returns an empty collector. Pinning happens once, at construction,
// so that membership comparisons later (Comparable) reflect the
// namespaces in effect when the sender's identity was captured.
func NewMetadata(host HostEnv) (*Metadata, error) {
	pidNS, userNS, err := host.CurrentNamespaces()
	if err != nil {
		return nil, wrapInternal("pin namespaces for metadata collection", err)
	}
	return &Metadata{
		host:   host,
		pidNS:  pidNS,
		userNS: userNS,
		buf:    NewItemBuilder(),
	}, nil
}

// Comparable reports whether m and o were collected in the same pid and
// user namespace pair, the precondition spec.md §4.2 places on comparing
// or reusing metadata across connections.
func (m *Metadata) Comparable(o *Metadata) bool {
	return m.pidNS.Equal(o.pidNS) && m.userNS.Equal(o.userNS)
}

// Attached returns the classes successfully collected so far.
func (m *Metadata) Attached() AttachMask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

// Bytes returns the accumulated item stream.
func (m *Metadata) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Bytes()
}

// SetConnName records the human connection-name string later reported as
// the conn-name/conn-description item when AttachConnName is requested.
// It has no effect once that class is already attached.
func (m *Metadata) SetConnName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connName = name
}

type collector struct {
	bit     AttachMask
	collect func(m *Metadata) error
}

// Append collects every class set in want that is not already attached.
// Each class is appended and its bit set independently: if one class
// fails, the classes collected earlier in the same call remain attached
// and the failing class's bit stays clear, so the caller can retry with
// the same mask and only the still-missing classes are attempted again.
// This is a deliberate per-class granularity narrower than the original
// kernel implementation's single end-of-batch commit — see DESIGN.md.
func (m *Metadata) Append(want AttachMask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := want &^ m.attached
	if pending == 0 {
		return nil
	}

	for _, c := range m.collectors() {
		if pending&c.bit == 0 {
			continue
		}
		if err := c.collect(m); err != nil {
			return err
		}
		m.attached |= c.bit
	}
	return nil
}

func (m *Metadata) collectors() []collector {
	return []collector{
		{AttachTimestamp, collectTimestamp},
		{AttachCreds, collectCreds},
		{AttachAuxGroups, collectAuxGroups},
		{AttachComm, collectComm},
		{AttachExe, collectExe},
		{AttachCmdline, collectCmdline},
		{AttachCaps, collectCaps},
		{AttachCgroup, collectCgroup},
		{AttachAudit, collectAudit},
		{AttachSecLabel, collectSecLabel},
		{AttachConnName, collectConnName},
	}
}

func collectTimestamp(m *Metadata) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	return m.buf.AppendBytes(ItemTimestamp, buf[:])
}

func collectCreds(m *Metadata) error {
	creds, err := m.host.Credentials()
	if err != nil {
		return err
	}
	var buf [48]byte
	binary.LittleEndian.PutUint32(buf[0:], creds.UID)
	binary.LittleEndian.PutUint32(buf[4:], creds.GID)
	binary.LittleEndian.PutUint32(buf[8:], creds.EUID)
	binary.LittleEndian.PutUint32(buf[12:], creds.EGID)
	binary.LittleEndian.PutUint32(buf[16:], creds.SUID)
	binary.LittleEndian.PutUint32(buf[20:], creds.SGID)
	binary.LittleEndian.PutUint32(buf[24:], creds.FSUID)
	binary.LittleEndian.PutUint32(buf[28:], creds.FSGID)
	binary.LittleEndian.PutUint32(buf[32:], uint32(creds.PID))
	binary.LittleEndian.PutUint32(buf[36:], uint32(creds.TID))
	binary.LittleEndian.PutUint64(buf[40:], creds.StartTime)
	return m.buf.AppendBytes(ItemCreds, buf[:])
}

func collectAuxGroups(m *Metadata) error {
	groups, err := m.host.AuxGroups()
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		// nothing to report, but the class is still considered attached
		return nil
	}
	buf := make([]byte, 4*len(groups))
	for i, g := range groups {
		binary.LittleEndian.PutUint32(buf[i*4:], g)
	}
	return m.buf.AppendBytes(ItemAuxGroups, buf)
}

// AppendOwnedNames appends one ItemName record per name currently owned
// by the connection this metadata describes. Called by Connection when
// assembling outgoing metadata, since ownership lives in the registry.
func (m *Metadata) AppendOwnedNames(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached&AttachNames != 0 {
		return nil
	}
	for _, n := range names {
		if err := m.buf.AppendBytes(ItemName, []byte(n+"\x00")); err != nil {
			return err
		}
	}
	m.attached |= AttachNames
	return nil
}

func collectComm(m *Metadata) error {
	threadComm, groupComm, err := m.host.Comm()
	if err != nil {
		return err
	}
	if err := m.buf.AppendBytes(ItemTgidComm, []byte(groupComm+"\x00")); err != nil {
		return err
	}
	return m.buf.AppendBytes(ItemPidComm, []byte(threadComm+"\x00"))
}

func collectExe(m *Metadata) error {
	exe, err := m.host.Exe()
	if err != nil {
		return err
	}
	return m.buf.AppendBytes(ItemExe, []byte(exe+"\x00"))
}

func collectCmdline(m *Metadata) error {
	cmdline, err := m.host.Cmdline()
	if err != nil {
		// A kernel thread has no mm and therefore no cmdline; treat this
		// the same as any other transient collection failure rather than
		// a hard error, per original_source/metadata.c's proc_collect.
		return err
	}
	if len(cmdline) == 0 {
		return nil
	}
	return m.buf.AppendBytes(ItemCmdline, cmdline)
}

func collectCaps(m *Metadata) error {
	caps, err := m.host.Caps()
	if err != nil {
		return err
	}
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], caps.Inheritable)
	binary.LittleEndian.PutUint64(buf[8:], caps.Permitted)
	binary.LittleEndian.PutUint64(buf[16:], caps.Effective)
	binary.LittleEndian.PutUint64(buf[24:], caps.Bounding)
	return m.buf.AppendBytes(ItemCaps, buf[:])
}

func collectCgroup(m *Metadata) error {
	path, err := m.host.Cgroup(0)
	if err != nil {
		if types.IsErrCode(err, types.ErrCodeNotSupported) {
			return nil
		}
		return err
	}
	return m.buf.AppendBytes(ItemCgroup, []byte(path+"\x00"))
}

func collectAudit(m *Metadata) error {
	info, err := m.host.Audit()
	if err != nil {
		if types.IsErrCode(err, types.ErrCodeNotSupported) {
			return nil
		}
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], info.LoginUID)
	binary.LittleEndian.PutUint32(buf[4:], info.SessionID)
	return m.buf.AppendBytes(ItemAudit, buf[:])
}

func collectSecLabel(m *Metadata) error {
	label, err := m.host.SecLabel()
	if err != nil {
		return err
	}
	if len(label) == 0 {
		return nil
	}
	return m.buf.AppendBytes(ItemSecLabel, label)
}

func collectConnName(m *Metadata) error {
	if m.connName == "" {
		return nil
	}
	return m.buf.AppendBytes(ItemConnDescription, []byte(m.connName+"\x00"))
}

// String implements fmt.Stringer for debug logging.
func (m *Metadata) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("Metadata{attached=%#x, bytes=%d}", m.attached, m.buf.Len())
}
