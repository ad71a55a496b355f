// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

// LogLevel is the severity of a client-directed log message.
type LogLevel string

const (
	// LogFault marks the zero-row batch that carries a Fault to the client.
	LogFault LogLevel = "FAULT"
	LogError LogLevel = "ERROR"
	LogWarn  LogLevel = "WARN"
	LogInfo  LogLevel = "INFO"
	LogDebug LogLevel = "DEBUG"
	LogTrace LogLevel = "TRACE"
)

// severity returns a numeric rank for log levels (lower = more severe).
func severity(level LogLevel) int {
	switch level {
	case LogFault:
		return 0
	case LogError:
		return 1
	case LogWarn:
		return 2
	case LogInfo:
		return 3
	case LogDebug:
		return 4
	case LogTrace:
		return 5
	default:
		return 6
	}
}

// KV is a key-value pair for structured log extras.
type KV struct {
	Key   string
	Value string
}

// LogMessage is a log record forwarded to the calling client inside the
// response stream.
type LogMessage struct {
	Level   LogLevel
	Message string
	Extras  map[string]string
}
