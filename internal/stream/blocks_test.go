package stream

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFinalBlocksLayout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		text     string
		sections int
	}{
		{name: "empty", text: "", sections: 0},
		// Slack rejects blank section text, so a blank answer keeps only the footer.
		{name: "whitespace", text: "  \n", sections: 0},
		{name: "single", text: "Hello world", sections: 1},
		{name: "long", text: strings.Repeat("あ", maxSectionChars*2+1), sections: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks := FinalBlocks(tc.text, "")
			if len(blocks) != tc.sections+2 {
				t.Fatalf("blocks mismatch: got %d want %d", len(blocks), tc.sections+2)
			}
			for i := 0; i < tc.sections; i++ {
				if blocks[i].Type != "section" || blocks[i].Text == nil || blocks[i].Text.Type != "mrkdwn" {
					t.Fatalf("block %d is not a mrkdwn section: %+v", i, blocks[i])
				}
				if n := len([]rune(blocks[i].Text.Text)); n > maxSectionChars {
					t.Fatalf("section %d too long: %d", i, n)
				}
			}
			if tc.sections > 0 {
				if got := blocksText(blocks); got != tc.text {
					t.Fatalf("section text does not reassemble the answer")
				}
			}
			divider := blocks[tc.sections]
			if divider.Type != "divider" {
				t.Fatalf("divider mismatch: got %q", divider.Type)
			}
			note := blocks[tc.sections+1]
			if note.Type != "context" || len(note.Elements) != 1 {
				t.Fatalf("context block mismatch: %+v", note)
			}
			if note.Elements[0].Text != DefaultDisclaimer {
				t.Fatalf("disclaimer mismatch: got %q", note.Elements[0].Text)
			}
		})
	}
}

func TestFinalBlocksCapsBlockCount(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", maxSectionChars*60)
	blocks := FinalBlocks(text, "")
	if len(blocks) != maxBlocks {
		t.Fatalf("blocks mismatch: got %d want %d", len(blocks), maxBlocks)
	}
	for i := 0; i < maxSections; i++ {
		if blocks[i].Type != "section" {
			t.Fatalf("block %d type mismatch: got %q want section", i, blocks[i].Type)
		}
		if n := len([]rune(blocks[i].Text.Text)); n > maxSectionChars {
			t.Fatalf("section %d too long: %d", i, n)
		}
	}
	last := blocks[maxSections-1].Text.Text
	if !strings.HasSuffix(last, truncatedMarker) {
		t.Fatalf("last section should end with the truncation marker, got %q", last[len(last)-20:])
	}
	if blocks[maxBlocks-2].Type != "divider" || blocks[maxBlocks-1].Type != "context" {
		t.Fatalf("trailing blocks mismatch: %q, %q", blocks[maxBlocks-2].Type, blocks[maxBlocks-1].Type)
	}

	exact := FinalBlocks(strings.Repeat("b", maxSectionChars*maxSections), "")
	if len(exact) != maxBlocks {
		t.Fatalf("exact fit blocks mismatch: got %d want %d", len(exact), maxBlocks)
	}
	if strings.Contains(exact[maxSections-1].Text.Text, truncatedMarker) {
		t.Fatalf("answer that fits should not be marked truncated")
	}
}

func TestFinalBlocksJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(FinalBlocks("hi", "check it"))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `[{"type":"section","text":{"type":"mrkdwn","text":"hi"}},{"type":"divider"},{"type":"context","elements":[{"type":"mrkdwn","text":"check it"}]}]`
	if string(raw) != want {
		t.Fatalf("json mismatch:\ngot  %s\nwant %s", raw, want)
	}
}
