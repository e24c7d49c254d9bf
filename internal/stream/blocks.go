package stream

import "strings"

// DefaultDisclaimer is the context note appended to every finalized answer.
const DefaultDisclaimer = "AIChat answers are not always correct, so be sure to check important information."

const (
	// maxSectionChars is Slack's limit for the text of a section block.
	maxSectionChars = 3000
	// maxBlocks is Slack's limit for blocks in one message.
	maxBlocks = 50
	// maxSections leaves room for the divider and context blocks.
	maxSections = maxBlocks - 2

	truncatedMarker = "\n…(truncated)"
)

// Block is the subset of Slack Block Kit used by finalized messages.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FinalBlocks renders the finalized layout: the answer as one or more mrkdwn
// sections, a divider and a context block holding the disclaimer.
// A blank answer produces no section since Slack rejects blank section text.
// Answers longer than maxSections sections are cut and end with a marker.
func FinalBlocks(text, disclaimer string) []Block {
	if strings.TrimSpace(disclaimer) == "" {
		disclaimer = DefaultDisclaimer
	}
	chunks := splitRunes(text, maxSectionChars)
	if len(chunks) > maxSections {
		chunks = chunks[:maxSections]
		last := []rune(chunks[maxSections-1])
		keep := maxSectionChars - len([]rune(truncatedMarker))
		if len(last) > keep {
			last = last[:keep]
		}
		chunks[maxSections-1] = string(last) + truncatedMarker
	}
	out := make([]Block, 0, len(chunks)+2)
	for _, chunk := range chunks {
		out = append(out, Block{
			Type: "section",
			Text: &TextObject{Type: "mrkdwn", Text: chunk},
		})
	}
	out = append(out, Block{Type: "divider"})
	out = append(out, Block{
		Type:     "context",
		Elements: []TextObject{{Type: "mrkdwn", Text: disclaimer}},
	})
	return out
}

func splitRunes(text string, size int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
