package serialframe

import (
	"fmt"
	"strings"
)

// Field indexes a value inside a frame. The order is fixed by the Arduino
// sketch and must not change.
type Field int

const (
	StartButton Field = iota
	Strap1
	Strap2
	LeftIR1
	RightIR1
	LeftIR2
	RightIR2

	// NumFields is the number of values per frame.
	NumFields = 7
)

const (
	Low  = 0
	High = 1
)

var fieldNames = [NumFields]string{
	"start_button", "strap1", "strap2", "left_ir1", "right_ir1", "left_ir2", "right_ir2",
}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Reading is one decoded sensor snapshot. It is a value type; copies are
// independent and nothing mutates a Reading after decoding.
type Reading [NumFields]int

// NewReading builds a Reading from values in frame order.
func NewReading(start, strap1, strap2, leftIR1, rightIR1, leftIR2, rightIR2 int) Reading {
	return Reading{start, strap1, strap2, leftIR1, rightIR1, leftIR2, rightIR2}
}

func (r Reading) Get(f Field) int { return r[f] }

func (r Reading) High(f Field) bool { return r[f] == High }

func (r Reading) StartButton() int { return r[StartButton] }
func (r Reading) Strap1() int      { return r[Strap1] }
func (r Reading) Strap2() int      { return r[Strap2] }
func (r Reading) LeftIR1() int     { return r[LeftIR1] }
func (r Reading) RightIR1() int    { return r[RightIR1] }
func (r Reading) LeftIR2() int     { return r[LeftIR2] }
func (r Reading) RightIR2() int    { return r[RightIR2] }

func (r Reading) String() string {
	var b strings.Builder
	b.WriteString("Reading{")
	for i, v := range r {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", Field(i), v)
	}
	b.WriteByte('}')
	return b.String()
}
