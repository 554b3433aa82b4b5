//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

type vipsState int

const (
	vipsIdle vipsState = iota
	vipsRunning
	vipsStopped
)

var vipsRuntime struct {
	mu    sync.Mutex
	state vipsState
}

// Startup initializes libvips for the process. The cache stays small because every normalized
// raster is used exactly once. libvips cannot be restarted after Shutdown.
func Startup() error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	switch vipsRuntime.state {
	case vipsRunning:
		return nil
	case vipsStopped:
		return errors.New("libvips was shut down and cannot restart")
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   64 << 20,
		MaxCacheSize:  50,
	})
	vipsRuntime.state = vipsRunning
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()
	if vipsRuntime.state != vipsRunning {
		return
	}
	vips.Shutdown()
	vipsRuntime.state = vipsStopped
}

func newNormalizer() Normalizer {
	return govipsNormalizer{}
}
