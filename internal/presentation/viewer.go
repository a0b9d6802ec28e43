// Package presentation handles slide decks for presentation-mode rehearsals:
// counting slides in an uploaded PDF and tracking the viewer's position.
package presentation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
)

var (
	// ErrNotPDF is returned for uploads without a PDF header.
	ErrNotPDF = errors.New("file is not a PDF document")
	// ErrNoSlides is returned when no page objects are found.
	ErrNoSlides = errors.New("document contains no slides")
)

// Page objects carry "/Type /Page"; the page-tree root carries "/Type /Pages"
// and must not be counted.
var pageObjectRe = regexp.MustCompile(`/Type\s*/Page([^s]|$)`)

// Deck is one loaded slide deck with a current position.
type Deck struct {
	mu      sync.Mutex
	slides  int
	current int
}

// Load reads a PDF document and returns a deck positioned on the first slide.
func Load(r io.Reader) (*Deck, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read deck: %w", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	n := len(pageObjectRe.FindAll(data, -1))
	if n == 0 {
		return nil, ErrNoSlides
	}
	return &Deck{slides: n}, nil
}

// SlideCount returns the total number of slides.
func (d *Deck) SlideCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slides
}

// Current returns the zero-based index of the active slide.
func (d *Deck) Current() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Next advances one slide, clamped at the last. Returns the new index.
func (d *Deck) Next() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current < d.slides-1 {
		d.current++
	}
	return d.current
}

// Prev moves back one slide, clamped at the first. Returns the new index.
func (d *Deck) Prev() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current > 0 {
		d.current--
	}
	return d.current
}

// Goto jumps to a slide. Out-of-range indexes are rejected.
func (d *Deck) Goto(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= d.slides {
		return fmt.Errorf("slide %d of %d: out of range", i, d.slides)
	}
	d.current = i
	return nil
}
