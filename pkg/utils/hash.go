package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// HashString returns a hex md5 fingerprint, used for cache keys only.
func HashString(input string) string {
	hash := md5.Sum([]byte(strings.TrimSpace(input)))
	return fmt.Sprintf("%x", hash)
}
