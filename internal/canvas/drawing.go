// Package canvas decodes and compares the drawing surface's save format.
//
// The format is the one produced by the browser drawing component:
//
//	{"lines":[{"points":[{"x":1,"y":2}],"brushColor":"#ff0000","brushRadius":5}],"width":1200,"height":600}
//
// The store treats it as an opaque blob; only clients and validation look inside.
package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSaveData = errors.New("invalid save data")

// Point is a single sampled pointer position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous pointer drag.
type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"brushColor"`
	Radius float64 `json:"brushRadius"`
}

// Drawing is the full decoded canvas.
type Drawing struct {
	Lines  []Stroke `json:"lines"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
}

// Decode parses a save-data blob. An empty blob decodes to an empty drawing.
func Decode(blob string) (Drawing, error) {
	var d Drawing
	trimmed := bytes.TrimSpace([]byte(blob))
	if len(trimmed) == 0 {
		return d, nil
	}
	if trimmed[0] != '{' {
		return d, fmt.Errorf("%w: expected a JSON object", ErrInvalidSaveData)
	}
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Drawing{}, fmt.Errorf("%w: %v", ErrInvalidSaveData, err)
	}
	return d, nil
}

// Encode serializes a drawing. Lines is always emitted as an array.
func Encode(d Drawing) (string, error) {
	if d.Lines == nil {
		d.Lines = []Stroke{}
	}
	for i := range d.Lines {
		if d.Lines[i].Points == nil {
			d.Lines[i].Points = []Point{}
		}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Validate reports whether blob is well-formed save data.
func Validate(blob string) error {
	if strings.TrimSpace(blob) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSaveData)
	}
	_, err := Decode(blob)
	return err
}

// Equal compares the ordered stroke lists of two drawings.
// Canvas dimensions are ignored; a client of a different size rescales on load.
func Equal(a, b Drawing) bool {
	if len(a.Lines) != len(b.Lines) {
		return false
	}
	for i := range a.Lines {
		if !a.Lines[i].Equal(b.Lines[i]) {
			return false
		}
	}
	return true
}

// Equal compares points, color and radius. Colors compare case-insensitively.
func (s Stroke) Equal(o Stroke) bool {
	if s.Radius != o.Radius || !strings.EqualFold(s.Color, o.Color) {
		return false
	}
	if len(s.Points) != len(o.Points) {
		return false
	}
	for i := range s.Points {
		if s.Points[i] != o.Points[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (d Drawing) Clone() Drawing {
	out := Drawing{Width: d.Width, Height: d.Height}
	if d.Lines != nil {
		out.Lines = make([]Stroke, len(d.Lines))
		for i, s := range d.Lines {
			out.Lines[i] = Stroke{
				Points: append([]Point(nil), s.Points...),
				Color:  s.Color,
				Radius: s.Radius,
			}
		}
	}
	return out
}
