package kdbus

// NamespaceHandle identifies a pid or user namespace the host process
// currently lives in. Two handles compare equal exactly when they pin the
// same kernel namespace, which is what the metadata collector uses to
// decide whether a record it already collected is still comparable to
// the namespace a new recipient lives in.
type NamespaceHandle struct {
	dev, ino uint64
}

// Equal reports whether h and o pin the same namespace.
func (h NamespaceHandle) Equal(o NamespaceHandle) bool {
	return h == o
}

// Creds is a snapshot of a process's identity at collection time.
type Creds struct {
	UID, GID   uint32
	EUID, EGID uint32
	SUID, SGID uint32
	FSUID, FSGID uint32
	PID, TID   int32
	StartTime  uint64 // clock ticks since boot, kernel-comparable
}

// CapSet is the four-tuple of capability bitmasks the kernel tracks per
// thread, sized to the build's CAP_LAST_CAP and masked accordingly.
type CapSet struct {
	Inheritable uint64
	Permitted   uint64
	Effective   uint64
	Bounding    uint64
}

// AuditInfo is the login-session identity the kernel audit subsystem
// associates with a task, when audit support is compiled in.
type AuditInfo struct {
	LoginUID  uint32
	SessionID uint32
}

// HostEnv abstracts the facility queries the metadata collector needs
// from the operating system. pkg/kdbus/metadata_linux.go implements it
// with real golang.org/x/sys/unix syscalls; metadata_other.go implements
// it as a stub that reports every query as not-supported, so the broker
// core builds and runs its tests on any platform.
type HostEnv interface {
	// CurrentNamespaces returns handles pinning the calling process's
	// pid and user namespaces.
	CurrentNamespaces() (pid, user NamespaceHandle, err error)

	// Credentials returns the calling process's credential snapshot.
	Credentials() (Creds, error)

	// TranslateUID maps a host uid into the given user namespace. Only
	// translation into the caller's own current user namespace is
	// modeled; crossing into a different namespace returns
	// not-supported rather than guessing at uid_map arithmetic this
	// package does not have access to.
	TranslateUID(uid uint32, ns NamespaceHandle) (uint32, error)

	// AuxGroups returns the calling process's supplementary group list.
	AuxGroups() ([]uint32, error)

	// Comm returns the thread and thread-group command names
	// (/proc/<tid>/comm and /proc/<pid>/comm).
	Comm() (threadComm, groupComm string, err error)

	// Exe returns the target of /proc/<pid>/exe.
	Exe() (string, error)

	// Cmdline returns the raw, NUL-separated /proc/<pid>/cmdline bytes.
	// A kernel thread has no associated mm and reports not-supported.
	Cmdline() ([]byte, error)

	// Caps returns the calling thread's capability sets.
	Caps() (CapSet, error)

	// Cgroup returns the calling process's cgroup path within the
	// hierarchy identified by hierarchyID (0 selects the first hierarchy
	// listed).
	Cgroup(hierarchyID uint64) (string, error)

	// Audit returns the calling process's audit login/session ids.
	Audit() (AuditInfo, error)

	// SecLabel returns the calling process's LSM security label, if
	// any LSM is active.
	SecLabel() ([]byte, error)
}
