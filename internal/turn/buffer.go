package turn

import "strings"

// UtteranceBuffer accumulates the text of the utterance being assembled.
// It is a value type so the reducer can copy it freely.
type UtteranceBuffer struct {
	committed string
	pending   string
}

// AppendFinal appends finalized recognizer text. The final result supersedes
// whatever interim guess was pending.
func (b *UtteranceBuffer) AppendFinal(text string) {
	b.committed += text
	b.pending = ""
}

// SetInterim replaces the pending guess. Interim results are cumulative from
// the start of the recognizer segment, so they are never appended.
func (b *UtteranceBuffer) SetInterim(text string) {
	b.pending = text
}

// Flush merges the pending guess into the committed text, resets the buffer
// and returns the trimmed utterance.
func (b *UtteranceBuffer) Flush() string {
	text := strings.TrimSpace(b.committed + b.pending)
	b.Reset()
	return text
}

// Carry folds the pending guess into the committed text so it survives a
// recognizer restart, whose interim results start from scratch.
func (b *UtteranceBuffer) Carry() {
	text := strings.TrimSpace(b.committed + b.pending)
	b.pending = ""
	if text == "" {
		b.committed = ""
		return
	}
	b.committed = text + " "
}

func (b *UtteranceBuffer) Reset() {
	b.committed = ""
	b.pending = ""
}

// Empty reports whether nothing but whitespace has been heard.
func (b UtteranceBuffer) Empty() bool {
	return strings.TrimSpace(b.committed+b.pending) == ""
}

// Text is the current best guess of the full utterance, for display.
func (b UtteranceBuffer) Text() string { return b.committed + b.pending }

func (b UtteranceBuffer) Committed() string { return b.committed }
func (b UtteranceBuffer) Pending() string   { return b.pending }
