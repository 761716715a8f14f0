//go:build !linux

package kdbus

// otherHostEnv implements HostEnv on platforms that cannot back it with
// real syscalls, reporting every facility query as not-supported so the
// broker core still builds and runs its tests off Linux.
type otherHostEnv struct{}

// NewHostEnv returns the platform HostEnv: a not-supported stub on any
// non-Linux build.
func NewHostEnv() HostEnv {
	return otherHostEnv{}
}

func (otherHostEnv) CurrentNamespaces() (pid, user NamespaceHandle, err error) {
	return NamespaceHandle{}, NamespaceHandle{}, nil
}

func (otherHostEnv) Credentials() (Creds, error) {
	return Creds{}, errNotSupported("credential collection requires Linux")
}

func (otherHostEnv) TranslateUID(uint32, NamespaceHandle) (uint32, error) {
	return 0, errNotSupported("uid translation requires Linux")
}

func (otherHostEnv) AuxGroups() ([]uint32, error) {
	return nil, errNotSupported("auxiliary group collection requires Linux")
}

func (otherHostEnv) Comm() (threadComm, groupComm string, err error) {
	return "", "", errNotSupported("comm collection requires Linux")
}

func (otherHostEnv) Exe() (string, error) {
	return "", errNotSupported("exe collection requires Linux")
}

func (otherHostEnv) Cmdline() ([]byte, error) {
	return nil, errNotSupported("cmdline collection requires Linux")
}

func (otherHostEnv) Caps() (CapSet, error) {
	return CapSet{}, errNotSupported("capability collection requires Linux")
}

func (otherHostEnv) Cgroup(uint64) (string, error) {
	return "", errNotSupported("cgroup collection requires Linux")
}

func (otherHostEnv) Audit() (AuditInfo, error) {
	return AuditInfo{}, errNotSupported("audit collection requires Linux")
}

func (otherHostEnv) SecLabel() ([]byte, error) {
	return nil, errNotSupported("security label collection requires Linux")
}
