// Package connid generates short correlation ids for logging, one per
// accepted connection, using the fast non-cryptographic RNG the teacher
// repo already depended on.
package connid

import (
	"encoding/hex"

	"github.com/NebulousLabs/fastrand"
)

// New returns a short hex id suitable for tagging log lines for a single
// connection's lifetime. It is not a security token.
func New() string {
	return hex.EncodeToString(fastrand.Bytes(4))
}
