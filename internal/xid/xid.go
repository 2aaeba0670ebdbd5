package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const stampLayout = "20060102150405"

// Bill builds a bill identifier: type prefix, the raw HTX name, a
// second-resolution timestamp and a short random suffix. The suffix bounds
// collision probability under burst load without a central sequence; the
// store still verifies uniqueness inside the issuing transaction and asks
// for a fresh id on collision.
func Bill(htx string, at time.Time) string {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("B-%s-%s-%04x", htx, at.Format(stampLayout), at.UnixNano()&0xffff)
	}
	return fmt.Sprintf("B-%s-%s-%s", htx, at.Format(stampLayout), hex.EncodeToString(buf))
}

// Entity builds a generic entity identifier: <prefix>-<htx>-<timestamp>.
// No random suffix, so two creations for the same HTX within the same
// second can collide; acceptable for low-frequency entities like drivers.
func Entity(prefix string, htx string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, htx, at.Format(stampLayout))
}
