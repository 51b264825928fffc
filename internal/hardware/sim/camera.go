package sim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nerrad567/minifc/internal/hardware"
)

// Camera is a scripted hardware.Detector.
//
// Every detectEvery-th call finds a box; all other calls find nothing.
// With detectEvery <= 0 nothing is ever found. Found boxes are saved as
// small image files under dir when dir is set.
type Camera struct {
	dir         string
	detectEvery int

	mu     sync.Mutex
	calls  int
	script []hardware.Detection
}

// NewCamera creates a camera that finds a box every detectEvery calls.
func NewCamera(dir string, detectEvery int) *Camera {
	return &Camera{dir: dir, detectEvery: detectEvery}
}

// NewScriptedCamera creates a camera that returns the given detections
// in order, then nothing.
func NewScriptedCamera(script ...hardware.Detection) *Camera {
	return &Camera{script: script}
}

// Calls returns how many times Detect ran.
func (c *Camera) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Detect implements hardware.Detector.
func (c *Camera) Detect(ctx context.Context) (hardware.Detection, error) {
	if err := ctx.Err(); err != nil {
		return hardware.Detection{}, err
	}

	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if c.script != nil {
		if n > len(c.script) {
			return hardware.Detection{}, nil
		}
		return c.script[n-1], nil
	}

	if c.detectEvery <= 0 || n%c.detectEvery != 0 {
		return hardware.Detection{}, nil
	}

	// Walk the box around the frame so successive picks differ.
	x := float64((n*37)%200 - 100)
	y := float64((n*53)%120 - 60)
	det := hardware.Detection{X: &x, Y: &y}

	if c.dir != "" {
		name := filepath.Join(c.dir, fmt.Sprintf("box-%04d.jpg", n))
		if err := os.WriteFile(name, fakeJPEG(n), 0o600); err != nil {
			return det, fmt.Errorf("saving capture: %w", err)
		}
		det.Filename = name
	}
	return det, nil
}

// fakeJPEG returns a tiny payload with JPEG start and end markers.
func fakeJPEG(n int) []byte {
	body := []byte(fmt.Sprintf("minifc sim capture %d", n))
	out := append([]byte{0xFF, 0xD8}, body...)
	return append(out, 0xFF, 0xD9)
}
