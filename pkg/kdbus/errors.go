package kdbus

import "github.com/amigadave/kdbus/pkg/types"

// Typed constructors over pkg/types.Error so call sites read like the
// broker's error table in spec.md §7 instead of repeating string codes.

func errBadAddress(msg string) *types.Error {
	return types.NewError(types.ErrCodeBadAddress, msg)
}

func errTooLarge(msg string) *types.Error {
	return types.NewError(types.ErrCodeTooLarge, msg)
}

func errTooSmall(msg string) *types.Error {
	return types.NewError(types.ErrCodeTooSmall, msg)
}

func errInvalidArgument(msg string) *types.Error {
	return types.NewError(types.ErrCodeInvalidArgument, msg)
}

func errNameTooLong(msg string) *types.Error {
	return types.NewError(types.ErrCodeNameTooLong, msg)
}

func errAlreadyExists(msg string) *types.Error {
	return types.NewError(types.ErrCodeAlreadyExists, msg)
}

func errNotSupported(msg string) *types.Error {
	return types.NewError(types.ErrCodeNotSupported, msg)
}

func errPermissionDenied(msg string) *types.Error {
	return types.NewError(types.ErrCodePermissionDenied, msg)
}

func errNoMemory(msg string) *types.Error {
	return types.NewError(types.ErrCodeNoMemory, msg)
}

func errBadMessage(msg string) *types.Error {
	return types.NewError(types.ErrCodeBadMessageFormat, msg)
}

func errShutdown(msg string) *types.Error {
	return types.NewError(types.ErrCodeShutdown, msg)
}

func errTimeout(msg string) *types.Error {
	return types.NewError(types.ErrCodeTimeout, msg)
}

func errNotFound(msg string) *types.Error {
	return types.NewError(types.ErrCodeNotFound, msg)
}

func wrapInternal(msg string, err error) *types.Error {
	return types.WrapError(types.ErrCodeInternal, msg, err)
}
