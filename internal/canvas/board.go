package canvas

import (
	"sync"
)

// Board is an in-memory drawing surface. Local edits (AddStroke, Undo, Clear)
// fire change notifications; LoadSaveData replaces content silently.
type Board struct {
	mu        sync.Mutex
	drawing   Drawing
	listeners map[int]func()
	nextID    int
	loads     int
}

// NewBoard creates an empty board of the given size.
func NewBoard(width, height float64) *Board {
	return &Board{
		drawing:   Drawing{Lines: []Stroke{}, Width: width, Height: height},
		listeners: make(map[int]func()),
	}
}

// OnChange registers fn to run after every local edit. The returned func unregisters it.
func (b *Board) OnChange(fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Board) notify() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// AddStroke appends a stroke, as when the pointer is released.
func (b *Board) AddStroke(s Stroke) {
	b.mu.Lock()
	b.drawing.Lines = append(b.drawing.Lines, Stroke{
		Points: append([]Point(nil), s.Points...),
		Color:  s.Color,
		Radius: s.Radius,
	})
	b.mu.Unlock()
	b.notify()
}

// Undo removes the most recent stroke. Returns false when the board is empty.
func (b *Board) Undo() bool {
	b.mu.Lock()
	if len(b.drawing.Lines) == 0 {
		b.mu.Unlock()
		return false
	}
	b.drawing.Lines = b.drawing.Lines[:len(b.drawing.Lines)-1]
	b.mu.Unlock()
	b.notify()
	return true
}

// Clear removes every stroke.
func (b *Board) Clear() {
	b.mu.Lock()
	b.drawing.Lines = []Stroke{}
	b.mu.Unlock()
	b.notify()
}

// SaveData serializes the current content.
func (b *Board) SaveData() (string, error) {
	b.mu.Lock()
	d := b.drawing.Clone()
	b.mu.Unlock()
	return Encode(d)
}

// LoadSaveData replaces the content with blob. Board dimensions are kept.
func (b *Board) LoadSaveData(blob string) error {
	d, err := Decode(blob)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	lines := d.Clone().Lines
	if lines == nil {
		lines = []Stroke{}
	}
	b.drawing.Lines = lines
	b.loads++
	return nil
}

// Strokes returns a copy of the current strokes.
func (b *Board) Strokes() []Stroke {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drawing.Clone().Lines
}

// Loads counts LoadSaveData calls.
func (b *Board) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}
