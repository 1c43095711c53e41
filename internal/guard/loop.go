// Package guard detects runs that repeat themselves without progress.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Defaults for NewLoopDetector.
const (
	DefaultLoopWindow    = 8
	DefaultLoopThreshold = 3
)

// LoopDetector keeps a sliding window of recent call signatures.
type LoopDetector struct {
	window    int
	threshold int
	recent    []string
}

// NewLoopDetector returns a detector; non-positive arguments use defaults.
func NewLoopDetector(window, threshold int) *LoopDetector {
	if window <= 0 {
		window = DefaultLoopWindow
	}
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopDetector{window: window, threshold: threshold, recent: make([]string, 0, window)}
}

// Signature builds the (tool, args hash, output hash) triple for Update.
func Signature(tool, args, output string) []string {
	return []string{tool, shortHash(args), shortHash(output)}
}

// Update pushes the signature into the window, evicting the oldest entry
// when full, and reports whether its count within the window has reached
// the threshold. The count includes the signature just pushed.
func (d *LoopDetector) Update(parts ...string) bool {
	sig := strings.Join(parts, "\x1f")
	if len(d.recent) >= d.window {
		d.recent = d.recent[1:]
	}
	d.recent = append(d.recent, sig)
	return d.count(sig) >= d.threshold
}

func (d *LoopDetector) count(sig string) int {
	n := 0
	for _, s := range d.recent {
		if s == sig {
			n++
		}
	}
	return n
}

// Reset clears the window.
func (d *LoopDetector) Reset() { d.recent = d.recent[:0] }

// Window returns the configured window size.
func (d *LoopDetector) Window() int { return d.window }

// Threshold returns the configured repeat threshold.
func (d *LoopDetector) Threshold() int { return d.threshold }

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
