//go:build linux

package ipc

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/amigadave/kdbus/pkg/types"
)

// peerCredentials returns the uid/gid of the process on the other end of
// a Unix domain socket connection, read via SO_PEERCRED. This is how the
// front end learns who is dialing in, in place of the kernel's own
// task_struct lookup at connect() time.
func peerCredentials(conn net.Conn) (uid, gid uint32, err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, types.NewError(types.ErrCodeNotSupported, "peer credentials require a unix socket connection")
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, 0, types.WrapError(types.ErrCodeInternal, "access raw unix connection", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return 0, 0, types.WrapError(types.ErrCodeInternal, "control raw unix connection", ctrlErr)
	}
	if sockErr != nil {
		return 0, 0, types.WrapError(types.ErrCodeInternal, "getsockopt SO_PEERCRED", sockErr)
	}
	return ucred.Uid, ucred.Gid, nil
}
