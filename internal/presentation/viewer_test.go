package presentation

import (
	"errors"
	"strings"
	"testing"
)

// minimalPDF builds a document with n page objects and one page-tree root.
func minimalPDF(n int) string {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj\n<< /Type /Pages /Kids [] >>\nendobj\n")
	for i := 0; i < n; i++ {
		b.WriteString("<< /Type /Page /Parent 1 0 R >>\nendobj\n")
	}
	b.WriteString("%%EOF\n")
	return b.String()
}

func TestLoad_CountsSlides(t *testing.T) {
	deck, err := Load(strings.NewReader(minimalPDF(3)))
	if err != nil {
		t.Fatal(err)
	}
	if deck.SlideCount() != 3 {
		t.Errorf("SlideCount = %d, want 3 (page-tree root not counted)", deck.SlideCount())
	}
	if deck.Current() != 0 {
		t.Errorf("Current = %d, want 0", deck.Current())
	}
}

func TestLoad_RejectsNonPDF(t *testing.T) {
	if _, err := Load(strings.NewReader("GIF89a")); !errors.Is(err, ErrNotPDF) {
		t.Errorf("Load = %v, want ErrNotPDF", err)
	}
}

func TestLoad_RejectsEmptyDeck(t *testing.T) {
	if _, err := Load(strings.NewReader("%PDF-1.4\n%%EOF")); !errors.Is(err, ErrNoSlides) {
		t.Errorf("Load = %v, want ErrNoSlides", err)
	}
}

func TestDeck_NavigationClamps(t *testing.T) {
	deck, err := Load(strings.NewReader(minimalPDF(2)))
	if err != nil {
		t.Fatal(err)
	}

	if got := deck.Prev(); got != 0 {
		t.Errorf("Prev at first slide = %d, want 0", got)
	}
	if got := deck.Next(); got != 1 {
		t.Errorf("Next = %d, want 1", got)
	}
	if got := deck.Next(); got != 1 {
		t.Errorf("Next at last slide = %d, want 1 (clamped)", got)
	}
	if got := deck.Prev(); got != 0 {
		t.Errorf("Prev = %d, want 0", got)
	}
}

func TestDeck_Goto(t *testing.T) {
	deck, err := Load(strings.NewReader(minimalPDF(4)))
	if err != nil {
		t.Fatal(err)
	}
	if err := deck.Goto(3); err != nil {
		t.Fatal(err)
	}
	if deck.Current() != 3 {
		t.Errorf("Current = %d, want 3", deck.Current())
	}
	if err := deck.Goto(4); err == nil {
		t.Error("Goto(4) on a 4-slide deck should fail")
	}
	if err := deck.Goto(-1); err == nil {
		t.Error("Goto(-1) should fail")
	}
}
