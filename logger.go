package trtlite

import (
	"log"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Severity of a message emitted by the native runtime logger. The values
// follow nvinfer1::ILogger::Severity.
type Severity int

const (
	SeverityInternalError Severity = 0
	SeverityError         Severity = 1
	SeverityWarning       Severity = 2
	SeverityInfo          Severity = 3
	SeverityVerbose       Severity = 4
)

var (
	logMu  sync.RWMutex
	logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("trtlite")
)

// SetLogger replaces the package logger
func SetLogger(l logr.Logger) {
	logMu.Lock()
	defer logMu.Unlock()

	logger = l
}

// Logger returns the package logger
func Logger() logr.Logger {
	logMu.RLock()
	defer logMu.RUnlock()

	return logger
}

// logNative routes a native runtime message to the package logger. Warnings
// print at V(0), info at V(1) and verbose messages at V(2).
func logNative(sev Severity, msg string) {
	l := Logger().WithName("native")

	switch sev {
	case SeverityInternalError, SeverityError:
		l.Error(nil, msg, "severity", sev.String())
	case SeverityWarning:
		l.Info(msg, "severity", sev.String())
	case SeverityInfo:
		l.V(1).Info(msg)
	default:
		l.V(2).Info(msg)
	}
}

// String returns a readable description of the Severity
func (s Severity) String() string {
	switch s {
	case SeverityInternalError:
		return "INTERNAL_ERROR"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	case SeverityVerbose:
		return "VERBOSE"
	default:
		return "UNKNOWN"
	}
}
