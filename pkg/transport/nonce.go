package transport

import (
	"maps"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var nonceCounter atomic.Uint64

// Nonce returns a client-generated token the platform uses to deduplicate
// retried calls: random hex, followed by the current time in milliseconds
// and a process-wide counter.
func Nonce() string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteString(strconv.FormatUint(nonceCounter.Add(1)-1, 10))
	return b.String()
}

// WithNonce returns a copy of input carrying a "nonce" field, keeping any
// nonce the caller already set. Calls whose input carries a nonce may be sent
// with AlwaysRetry.
func WithNonce(input map[string]any) map[string]any {
	out := maps.Clone(input)
	if out == nil {
		out = make(map[string]any, 1)
	}
	if _, ok := out["nonce"]; !ok {
		out["nonce"] = Nonce()
	}
	return out
}
