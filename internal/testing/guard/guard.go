// Package guard forces test mode for any test binary importing it, so
// command entry points return before opening connections.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ROMANEIO_TEST_MODE") == "" {
			_ = os.Setenv("ROMANEIO_TEST_MODE", "1")
		}
	})
}
