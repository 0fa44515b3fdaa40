// Package generation holds what the generation backends share: the
// thinking-block filter applied to every model output.
package generation

import (
	"strings"
	"unicode"
)

const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// ThinkFilter removes <think>...</think> spans from text that arrives in fragments.
// Text that might be the beginning of a start token is held back until the
// next fragment decides it, so tokens split across fragments are handled.
// A span that is never closed is dropped. The output is trimmed like
// StripThinking: leading whitespace is dropped, and whitespace is held back
// until more text follows it, so trailing whitespace never reaches the caller.
// A ThinkFilter is not safe for concurrent use.
type ThinkFilter struct {
	buf         string
	space       string // held whitespace
	suppressing bool
	started     bool
}

func NewThinkFilter() *ThinkFilter { return &ThinkFilter{} }

// Push adds a fragment and returns the text that can be released now.
func (f *ThinkFilter) Push(fragment string) string {
	f.buf += fragment
	var out strings.Builder
	for {
		if f.suppressing {
			i := strings.Index(f.buf, ThinkEnd)
			if i < 0 {
				// Only a partial end token is worth keeping.
				if keep := len(ThinkEnd) - 1; len(f.buf) > keep {
					f.buf = f.buf[len(f.buf)-keep:]
				}
				return f.release(out.String())
			}
			f.buf = f.buf[i+len(ThinkEnd):]
			f.suppressing = false
			continue
		}
		if i := strings.Index(f.buf, ThinkStart); i >= 0 {
			out.WriteString(f.buf[:i])
			f.buf = f.buf[i+len(ThinkStart):]
			f.suppressing = true
			continue
		}
		held := partialPrefixLen(f.buf, ThinkStart)
		out.WriteString(f.buf[:len(f.buf)-held])
		f.buf = f.buf[len(f.buf)-held:]
		return f.release(out.String())
	}
}

// Flush returns whatever is still held back once the input has ended.
func (f *ThinkFilter) Flush() string {
	defer func() { f.buf, f.space = "", "" }()
	if f.suppressing {
		return ""
	}
	return f.release(f.buf)
}

func (f *ThinkFilter) release(s string) string {
	if !f.started {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return ""
		}
		f.started = true
	}
	s = f.space + s
	body := strings.TrimRightFunc(s, unicode.IsSpace)
	f.space = s[len(body):]
	return body
}

// StripThinking removes every thinking span from a complete output and trims it.
func StripThinking(text string) string {
	f := NewThinkFilter()
	return strings.TrimSpace(f.Push(text) + f.Flush())
}

// partialPrefixLen returns the length of the longest suffix of s that is a
// proper prefix of token.
func partialPrefixLen(s, token string) int {
	for n := min(len(s), len(token)-1); n > 0; n-- {
		if strings.HasSuffix(s, token[:n]) {
			return n
		}
	}
	return 0
}
