// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import "fmt"

// Error codes reported by the SDK. They survive the RPC boundary as the
// fault message prefix, so a remote caller can tell a bad channel from a
// missing device.
const (
	CodeUnknownSerial  = "UnknownSerial"
	CodeDeviceInUse    = "DeviceInUse"
	CodeInvalidChannel = "InvalidChannel"
	CodeInvalidArg     = "InvalidArgument"
	CodeState          = "StateError"
	CodeIO             = "IOError"
)

// Error is a classified SDK failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a classified SDK error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is matches errors by code, so callers can test against a bare-code target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}
