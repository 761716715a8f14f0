package kdbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeHostEnv is a deterministic HostEnv double used by every metadata
// test so collection behavior does not depend on the platform running
// the test suite.
type fakeHostEnv struct {
	pidNS, userNS NamespaceHandle
	creds         Creds
	groups        []uint32
	threadComm    string
	groupComm     string
	exe           string
	cmdline       []byte
	caps          CapSet
	cgroupPath    string
	audit         AuditInfo
	secLabel      []byte

	failComm     bool
	failCmdline  bool
	failSecLabel bool
}

func (f *fakeHostEnv) CurrentNamespaces() (NamespaceHandle, NamespaceHandle, error) {
	return f.pidNS, f.userNS, nil
}
func (f *fakeHostEnv) Credentials() (Creds, error) { return f.creds, nil }
func (f *fakeHostEnv) TranslateUID(uid uint32, ns NamespaceHandle) (uint32, error) {
	if ns.Equal(f.userNS) {
		return uid, nil
	}
	return 0, errNotSupported("cross-namespace translation")
}
func (f *fakeHostEnv) AuxGroups() ([]uint32, error) { return f.groups, nil }
func (f *fakeHostEnv) Comm() (string, string, error) {
	if f.failComm {
		return "", "", errors.New("comm unavailable")
	}
	return f.threadComm, f.groupComm, nil
}
func (f *fakeHostEnv) Exe() (string, error) { return f.exe, nil }
func (f *fakeHostEnv) Cmdline() ([]byte, error) {
	if f.failCmdline {
		return nil, errors.New("no mm")
	}
	return f.cmdline, nil
}
func (f *fakeHostEnv) Caps() (CapSet, error) { return f.caps, nil }
func (f *fakeHostEnv) Cgroup(uint64) (string, error) { return f.cgroupPath, nil }
func (f *fakeHostEnv) Audit() (AuditInfo, error)     { return f.audit, nil }
func (f *fakeHostEnv) SecLabel() ([]byte, error) {
	if f.failSecLabel {
		return nil, errors.New("lsm read failed")
	}
	return f.secLabel, nil
}

func newTestHostEnv() *fakeHostEnv {
	return &fakeHostEnv{
		pidNS:      NamespaceHandle{dev: 1, ino: 2},
		userNS:     NamespaceHandle{dev: 1, ino: 3},
		creds:      Creds{UID: 1000, GID: 1000, PID: 42, TID: 42},
		groups:     []uint32{27, 100},
		threadComm: "worker",
		groupComm:  "broker",
		exe:        "/usr/bin/broker",
		cmdline:    []byte("broker\x00--flag\x00"),
		cgroupPath: "/user.slice",
	}
}

func TestMetadataAppendIsIdempotent(t *testing.T) {
	m, err := NewMetadata(newTestHostEnv())
	require.NoError(t, err)

	require.NoError(t, m.Append(AttachCreds))
	firstLen := len(m.Bytes())
	require.NoError(t, m.Append(AttachCreds))
	require.Equal(t, firstLen, len(m.Bytes()), "re-requesting an attached class must not re-append")
}

func TestMetadataAppendRetriesOnlyFailedClass(t *testing.T) {
	host := newTestHostEnv()
	host.failComm = true
	m, err := NewMetadata(host)
	require.NoError(t, err)

	err = m.Append(AttachCreds | AttachComm)
	require.Error(t, err)
	require.Equal(t, AttachCreds, m.Attached(), "creds succeeded before comm failed and must stay attached")

	host.failComm = false
	require.NoError(t, m.Append(AttachCreds|AttachComm))
	require.Equal(t, AttachCreds|AttachComm, m.Attached())
}

func TestMetadataComparable(t *testing.T) {
	hostA := newTestHostEnv()
	hostB := newTestHostEnv()
	hostB.userNS = NamespaceHandle{dev: 9, ino: 9}

	a, err := NewMetadata(hostA)
	require.NoError(t, err)
	b, err := NewMetadata(hostB)
	require.NoError(t, err)
	c, err := NewMetadata(hostA)
	require.NoError(t, err)

	require.True(t, a.Comparable(c))
	require.False(t, a.Comparable(b))
}

func TestMetadataCmdlineFailureLeavesBitUnset(t *testing.T) {
	host := newTestHostEnv()
	host.failCmdline = true
	m, err := NewMetadata(host)
	require.NoError(t, err)

	require.Error(t, m.Append(AttachCmdline))
	require.Equal(t, AttachMask(0), m.Attached())
}

func TestMetadataAppendOwnedNames(t *testing.T) {
	m, err := NewMetadata(newTestHostEnv())
	require.NoError(t, err)

	require.NoError(t, m.AppendOwnedNames([]string{"org.example.a", "org.example.b"}))
	require.Equal(t, AttachNames, m.Attached())

	before := len(m.Bytes())
	require.NoError(t, m.AppendOwnedNames([]string{"org.example.c"}))
	require.Equal(t, before, len(m.Bytes()), "AppendOwnedNames must be a no-op once attached")
}

func TestMetadataSetConnName(t *testing.T) {
	m, err := NewMetadata(newTestHostEnv())
	require.NoError(t, err)
	m.SetConnName("client-1")
	require.NoError(t, m.Append(AttachConnName))
	require.Equal(t, AttachConnName, m.Attached())
}
