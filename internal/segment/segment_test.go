package segment

import (
	"strings"
	"testing"
)

func TestNaive_Split(t *testing.T) {
	spans, err := Naive{}.Split("First sentence. Second one! And a third? ")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d: %v", len(spans), spans)
	}

	text := "First sentence. Second one! And a third? "
	if got := text[spans[0].Start:spans[0].End]; got != "First sentence." {
		t.Errorf("span 0 = %q", got)
	}
	if got := strings.TrimSpace(text[spans[1].Start:spans[1].End]); got != "Second one!" {
		t.Errorf("span 1 = %q", got)
	}
}

func TestNaive_Split_CJK(t *testing.T) {
	text := "第一句。 第二句！ "
	spans, err := Naive{}.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
}

func TestNaive_Split_NoTerminator(t *testing.T) {
	spans, _ := Naive{}.Split("no terminator here")
	if len(spans) != 1 {
		t.Fatalf("expected the whole text as one span, got %d", len(spans))
	}
}

func TestNaive_Split_AbbreviationMidSentence(t *testing.T) {
	// A period not followed by space does not end a sentence.
	spans, _ := Naive{}.Split("Version 1.2 is out. Done.")
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %v", len(spans), spans)
	}
}

func TestChunk_WithinBudget(t *testing.T) {
	chunks := Chunk("short text", 100, Naive{})
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Errorf("Chunk = %v", chunks)
	}
}

func TestChunk_ParagraphBoundaryPreferred(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph follows it."
	chunks := Chunk(text, 30, Naive{})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "First paragraph here." {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
}

func TestChunk_SentenceBoundary(t *testing.T) {
	text := "One sentence here. Another sentence follows. And more."
	chunks := Chunk(text, 30, Naive{})
	for i, c := range chunks {
		if len([]rune(c)) > 30 {
			t.Errorf("chunk %d over budget: %q", i, c)
		}
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Errorf("content lost:\n  got  %q\n  want %q", got, text)
	}
}

func TestChunk_HardCut(t *testing.T) {
	text := strings.Repeat("a", 25) // no boundaries at all
	chunks := Chunk(text, 10, Naive{})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Error("hard cut lost content")
	}
}

func TestChunk_NilSplitter(t *testing.T) {
	chunks := Chunk("some words to split apart here", 10, nil)
	for i, c := range chunks {
		if len([]rune(c)) > 10 {
			t.Errorf("chunk %d over budget: %q", i, c)
		}
	}
}
