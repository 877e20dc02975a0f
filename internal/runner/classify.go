package runner

import (
	"bytes"

	"github.com/herdctl/herd/pkg/models"
)

// Agent processes signal failure categories through sysexits-style codes.
const (
	exitTempFail    = 75 // transient failure, retry later
	exitUnavailable = 69 // service refused, treat as rate limiting
	exitNoPerm      = 77 // permission denied, needs a human
)

// Output markers scanned when the exit code alone is inconclusive. Matched
// case-insensitively against the captured tail.
var (
	rateLimitMarkers = [][]byte{
		[]byte("rate limit"), []byte("rate_limit"), []byte("too many requests"), []byte("429"),
	}
	networkMarkers = [][]byte{
		[]byte("connection refused"), []byte("connection reset"), []byte("no such host"),
		[]byte("network is unreachable"), []byte("tls handshake"), []byte("i/o timeout"),
	}
	permissionMarkers = [][]byte{
		[]byte("permission denied"), []byte("not authorized"), []byte("authentication"),
		[]byte("credentials"),
	}
)

// Classify maps a finished run to its status and failure type. timedOut
// marks runs the scheduler killed for exceeding their allowed duration;
// that classification wins over anything the exit code says.
func Classify(exitCode int, timedOut bool, outputTail []byte) (models.RunStatus, models.FailureType) {
	if timedOut {
		return models.RunFailed, models.FailureTimeout
	}
	if exitCode == 0 {
		return models.RunSucceeded, ""
	}

	switch exitCode {
	case exitTempFail:
		return models.RunFailed, models.FailureNetwork
	case exitUnavailable:
		return models.RunFailed, models.FailureRateLimited
	case exitNoPerm:
		return models.RunFailed, models.FailurePermission
	}

	tail := bytes.ToLower(outputTail)
	if containsAny(tail, rateLimitMarkers) {
		return models.RunFailed, models.FailureRateLimited
	}
	if containsAny(tail, networkMarkers) {
		return models.RunFailed, models.FailureNetwork
	}
	if containsAny(tail, permissionMarkers) {
		return models.RunFailed, models.FailurePermission
	}
	return models.RunFailed, models.FailureCrash
}

func containsAny(haystack []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(haystack, n) {
			return true
		}
	}
	return false
}
