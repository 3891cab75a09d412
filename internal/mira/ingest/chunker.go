// Package ingest turns uploaded documents into long-term memory records.
package ingest

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMinSize    = 100
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MinSize    int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk splits text into pieces suitable for individual memory records.
// Short text (<= maxSize) comes back as a single chunk.
func Chunk(text string, opts Options) []string {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []string{text}
	}

	return mergeBlocks(splitBlocks(text), opts)
}

// splitBlocks splits text on heading lines and double newlines.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	prevEmpty := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush()
		}
		if trimmed == "" {
			if prevEmpty && len(current) > 0 {
				flush()
			}
			prevEmpty = true
			current = append(current, line)
			continue
		}
		prevEmpty = false
		current = append(current, line)
	}
	flush()

	return blocks
}

// mergeBlocks combines small blocks and splits oversized ones.
func mergeBlocks(blocks []string, opts Options) []string {
	var results []string
	var accum string

	flushAccum := func() {
		t := strings.TrimSpace(accum)
		if t == "" {
			return
		}
		if len(t) > opts.MaxSize {
			results = append(results, hardSplit(t, opts)...)
		} else {
			results = append(results, t)
		}
		accum = ""
	}

	for _, b := range blocks {
		if accum == "" {
			accum = b
			continue
		}
		combined := accum + "\n\n" + b
		if len(combined) <= opts.TargetSize {
			accum = combined
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return results
}

// hardSplit breaks text that exceeds maxSize on line boundaries.
func hardSplit(text string, opts Options) []string {
	lines := strings.Split(text, "\n")
	var results []string
	var current []string
	curLen := 0

	flush := func() {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			results = append(results, t)
		}
		current = nil
		curLen = 0
	}

	for _, line := range lines {
		if curLen+len(line) > opts.TargetSize && len(current) > 0 {
			flush()
		}
		current = append(current, line)
		curLen += len(line) + 1
	}
	if len(current) > 0 {
		flush()
	}

	return results
}
