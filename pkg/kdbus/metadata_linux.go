//go:build linux

package kdbus

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// capLastCap bounds the capability bitmask width this build understands;
// bits above it are masked off rather than grown unbounded, matching the
// kernel's own CAP_LAST_CAP ceiling.
const capLastCap = 40

// linuxHostEnv implements HostEnv with real golang.org/x/sys/unix syscalls
// and /proc reads, grounded on original_source/metadata.c's class table.
type linuxHostEnv struct{}

// NewHostEnv returns the platform HostEnv: real syscalls on Linux.
func NewHostEnv() HostEnv {
	return linuxHostEnv{}
}

func statIDs(path string) (NamespaceHandle, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return NamespaceHandle{}, wrapInternal("stat "+path, err)
	}
	return NamespaceHandle{dev: uint64(st.Dev), ino: st.Ino}, nil
}

func (linuxHostEnv) CurrentNamespaces() (pid, user NamespaceHandle, err error) {
	pid, err = statIDs("/proc/self/ns/pid")
	if err != nil {
		return NamespaceHandle{}, NamespaceHandle{}, err
	}
	user, err = statIDs("/proc/self/ns/user")
	if err != nil {
		return NamespaceHandle{}, NamespaceHandle{}, err
	}
	return pid, user, nil
}

func (h linuxHostEnv) Credentials() (Creds, error) {
	ruid, euid, suid := unix.Getresuid()
	rgid, egid, sgid := unix.Getresgid()
	fsuid, fsgid, err := readFSIDs()
	if err != nil {
		return Creds{}, err
	}
	start, err := readStartTime(unix.Getpid())
	if err != nil {
		return Creds{}, err
	}
	return Creds{
		UID: uint32(ruid), GID: uint32(rgid),
		EUID: uint32(euid), EGID: uint32(egid),
		SUID: uint32(suid), SGID: uint32(sgid),
		FSUID: fsuid, FSGID: fsgid,
		PID: int32(unix.Getpid()), TID: int32(unix.Gettid()),
		StartTime: start,
	}, nil
}

func (linuxHostEnv) TranslateUID(uid uint32, ns NamespaceHandle) (uint32, error) {
	self, err := statIDs("/proc/self/ns/user")
	if err != nil {
		return 0, err
	}
	if !self.Equal(ns) {
		return 0, errNotSupported("uid translation across a different user namespace is not modeled")
	}
	return uid, nil
}

func (linuxHostEnv) AuxGroups() ([]uint32, error) {
	groups, err := unix.Getgroups()
	if err != nil {
		return nil, wrapInternal("getgroups", err)
	}
	out := make([]uint32, len(groups))
	for i, g := range groups {
		out[i] = uint32(g)
	}
	return out, nil
}

func (linuxHostEnv) Comm() (threadComm, groupComm string, err error) {
	tc, err := readTrimmed("/proc/self/task/" + strconv.Itoa(unix.Gettid()) + "/comm")
	if err != nil {
		return "", "", err
	}
	gc, err := readTrimmed("/proc/" + strconv.Itoa(unix.Getpid()) + "/comm")
	if err != nil {
		return "", "", err
	}
	return tc, gc, nil
}

func (linuxHostEnv) Exe() (string, error) {
	link, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return "", wrapInternal("readlink /proc/self/exe", err)
	}
	return link, nil
}

func (linuxHostEnv) Cmdline() ([]byte, error) {
	b, err := os.ReadFile("/proc/self/cmdline")
	if err != nil {
		return nil, wrapInternal("read /proc/self/cmdline", err)
	}
	return b, nil
}

func (linuxHostEnv) Caps() (CapSet, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return CapSet{}, wrapInternal("open /proc/self/status", err)
	}
	defer f.Close()

	mask := uint64(1)<<uint(capLastCap+1) - 1
	var caps CapSet
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "CapInh:"):
			caps.Inheritable = parseHexField(line) & mask
		case strings.HasPrefix(line, "CapPrm:"):
			caps.Permitted = parseHexField(line) & mask
		case strings.HasPrefix(line, "CapEff:"):
			caps.Effective = parseHexField(line) & mask
		case strings.HasPrefix(line, "CapBnd:"):
			caps.Bounding = parseHexField(line) & mask
		}
	}
	return caps, sc.Err()
}

func (linuxHostEnv) Cgroup(hierarchyID uint64) (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", wrapInternal("open /proc/self/cgroup", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.SplitN(sc.Text(), ":", 3)
		if len(fields) != 3 {
			continue
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if hierarchyID == 0 || id == hierarchyID {
			return fields[2], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", wrapInternal("scan /proc/self/cgroup", err)
	}
	return "", errNotSupported("no cgroup entry for requested hierarchy")
}

func (linuxHostEnv) Audit() (AuditInfo, error) {
	loginuid, err := readTrimmed("/proc/self/loginuid")
	if err != nil {
		return AuditInfo{}, errNotSupported("audit subsystem unavailable")
	}
	sessionid, err := readTrimmed("/proc/self/sessionid")
	if err != nil {
		return AuditInfo{}, errNotSupported("audit subsystem unavailable")
	}
	luid, err := strconv.ParseUint(loginuid, 10, 32)
	if err != nil {
		return AuditInfo{}, wrapInternal("parse loginuid", err)
	}
	sid, err := strconv.ParseUint(sessionid, 10, 32)
	if err != nil {
		return AuditInfo{}, wrapInternal("parse sessionid", err)
	}
	return AuditInfo{LoginUID: uint32(luid), SessionID: uint32(sid)}, nil
}

func (linuxHostEnv) SecLabel() ([]byte, error) {
	b, err := os.ReadFile("/proc/self/attr/current")
	if os.IsNotExist(err) || os.IsPermission(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInternal("read /proc/self/attr/current", err)
	}
	return []byte(strings.TrimRight(string(b), "\x00\n")), nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", wrapInternal("read "+path, err)
	}
	return strings.TrimRight(string(b), "\n\x00"), nil
}

func parseHexField(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 16, 64)
	return v
}

// readFSIDs has no direct syscall accessor on Linux; it is read out of
// /proc/self/status alongside the other four uid/gid fields.
func readFSIDs() (fsuid, fsgid uint32, err error) {
	f, openErr := os.Open("/proc/self/status")
	if openErr != nil {
		return 0, 0, wrapInternal("open /proc/self/status", openErr)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 5 {
				v, _ := strconv.ParseUint(fields[4], 10, 32)
				fsuid = uint32(v)
			}
		}
		if strings.HasPrefix(line, "Gid:") {
			fields := strings.Fields(line)
			if len(fields) >= 5 {
				v, _ := strconv.ParseUint(fields[4], 10, 32)
				fsgid = uint32(v)
			}
		}
	}
	return fsuid, fsgid, sc.Err()
}

func readStartTime(pid int) (uint64, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, wrapInternal("read /proc/<pid>/stat", err)
	}
	// Field 2 (comm) is parenthesized and may contain spaces; skip past
	// its closing paren before splitting the remaining fixed-width fields.
	s := string(b)
	closeIdx := strings.LastIndexByte(s, ')')
	if closeIdx < 0 || closeIdx+2 >= len(s) {
		return 0, errBadMessage("malformed /proc/<pid>/stat")
	}
	fields := strings.Fields(s[closeIdx+2:])
	// starttime is field 22 overall; fields[0] here is field 3.
	const starttimeIndexAfterComm = 22 - 3
	if len(fields) <= starttimeIndexAfterComm {
		return 0, errBadMessage("truncated /proc/<pid>/stat")
	}
	v, err := strconv.ParseUint(fields[starttimeIndexAfterComm], 10, 64)
	if err != nil {
		return 0, wrapInternal("parse starttime", err)
	}
	return v, nil
}
