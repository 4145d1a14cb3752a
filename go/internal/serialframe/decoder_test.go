package serialframe

import (
	"bytes"
	"errors"
	"testing"
)

const delim byte = 33

func TestDecodeExampleFrame(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)

	frames := d.Feed([]byte{33, 1, 0, 0, 1, 0, 0, 1, 33})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Err != nil {
		t.Fatalf("unexpected error: %v", frames[0].Err)
	}

	want := NewReading(1, 0, 0, 1, 0, 0, 1)
	if frames[0].Reading != want {
		t.Errorf("reading = %v, want %v", frames[0].Reading, want)
	}
	if frames[0].Reading.StartButton() != High || frames[0].Reading.RightIR2() != High {
		t.Errorf("accessors disagree with reading %v", frames[0].Reading)
	}
}

func TestDecodeFieldCount(t *testing.T) {
	tests := []struct {
		name   string
		fields []byte
	}{
		{"empty", nil},
		{"six fields", []byte{1, 0, 0, 1, 0, 0}},
		{"eight fields", []byte{1, 0, 0, 1, 0, 0, 1, 0}},
		{"one field", []byte{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(delim, FormatBinary)
			input := append([]byte{delim}, tt.fields...)
			input = append(input, delim)

			frames := d.Feed(input)
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if !errors.Is(frames[0].Err, ErrMalformedFrame) {
				t.Fatalf("err = %v, want ErrMalformedFrame", frames[0].Err)
			}
			var fe *FrameError
			if !errors.As(frames[0].Err, &fe) || fe.Fields != len(tt.fields) {
				t.Errorf("FrameError fields = %+v, want %d", fe, len(tt.fields))
			}
		})
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)

	frames := d.Feed([]byte{delim, 1, 0, 2, 1, 0, 0, 1, delim})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !errors.Is(frames[0].Err, ErrOutOfRangeField) {
		t.Fatalf("err = %v, want ErrOutOfRangeField", frames[0].Err)
	}
	var fe *FrameError
	if !errors.As(frames[0].Err, &fe) {
		t.Fatalf("err is not a *FrameError: %T", frames[0].Err)
	}
	if fe.Field != Strap2 || fe.Value != 2 {
		t.Errorf("offending field = %s=%d, want strap2=2", fe.Field, fe.Value)
	}
}

func TestDecodeResumesAfterBadFrame(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)

	input := []byte{delim, 1, 1, delim, 0, 1, 1, 0, 0, 0, 0, delim}
	frames := d.Feed(input)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !errors.Is(frames[0].Err, ErrMalformedFrame) {
		t.Errorf("first frame err = %v, want ErrMalformedFrame", frames[0].Err)
	}
	if frames[1].Err != nil {
		t.Fatalf("second frame err = %v", frames[1].Err)
	}
	if want := NewReading(0, 1, 1, 0, 0, 0, 0); frames[1].Reading != want {
		t.Errorf("second reading = %v, want %v", frames[1].Reading, want)
	}
}

func TestDecodeDropsBytesBeforeFirstDelimiter(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)

	// joined mid-stream: tail of a previous frame, then a full frame
	frames := d.Feed([]byte{0, 1, 1, delim, 1, 1, 1, 0, 0, 0, 0, delim})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Err != nil {
		t.Fatalf("unexpected error: %v", frames[0].Err)
	}
}

func TestDecodeIncremental(t *testing.T) {
	stream := []byte{delim}
	readings := []Reading{
		NewReading(1, 0, 0, 1, 0, 0, 1),
		NewReading(0, 1, 1, 0, 1, 1, 0),
		NewReading(0, 0, 0, 0, 0, 0, 0),
	}
	for _, r := range readings {
		stream = append(stream, EncodeFrame(r, FormatBinary, delim)...)
	}

	whole := NewDecoder(delim, FormatBinary).Feed(stream)

	d := NewDecoder(delim, FormatBinary)
	var split []Frame
	for _, b := range stream {
		split = append(split, d.Feed([]byte{b})...)
	}

	if len(whole) != len(readings) || len(split) != len(readings) {
		t.Fatalf("whole=%d split=%d, want %d", len(whole), len(split), len(readings))
	}
	for i := range readings {
		if whole[i].Reading != readings[i] || split[i].Reading != readings[i] {
			t.Errorf("frame %d: whole=%v split=%v want %v", i, whole[i].Reading, split[i].Reading, readings[i])
		}
	}
}

func TestDecodeOverlongFrame(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)

	noise := bytes.Repeat([]byte{0}, maxFrameLen+1)
	frames := d.Feed(append([]byte{delim}, noise...))
	if len(frames) != 1 || !errors.Is(frames[0].Err, ErrMalformedFrame) {
		t.Fatalf("frames = %+v, want one ErrMalformedFrame", frames)
	}

	// desynced: next bytes up to a delimiter are dropped, then decoding resumes
	frames = d.Feed([]byte{1, 1, delim, 1, 0, 0, 0, 0, 0, 0, delim})
	if len(frames) != 1 || frames[0].Err != nil {
		t.Fatalf("frames = %+v, want one valid frame", frames)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatASCII} {
		t.Run(format.String(), func(t *testing.T) {
			// every combination of the seven binary fields
			for bits := 0; bits < 1<<NumFields; bits++ {
				var r Reading
				for i := range r {
					r[i] = (bits >> i) & 1
				}

				d := NewDecoder(delim, format)
				frames := d.Feed(append([]byte{delim}, EncodeFrame(r, format, delim)...))
				if len(frames) != 1 || frames[0].Err != nil {
					t.Fatalf("bits %07b: frames = %+v", bits, frames)
				}
				if frames[0].Reading != r {
					t.Fatalf("bits %07b: got %v, want %v", bits, frames[0].Reading, r)
				}
			}
		})
	}
}

func TestDecodeASCII(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Reading
		wantErr error
	}{
		{"plain", "!1,0,0,1,0,0,1!", NewReading(1, 0, 0, 1, 0, 0, 1), nil},
		{"trailing comma", "!0,1,1,0,0,0,0,!", NewReading(0, 1, 1, 0, 0, 0, 0), nil},
		{"crlf and spaces", "!\r\n1, 1, 1, 0, 0, 0, 0\r\n!", NewReading(1, 1, 1, 0, 0, 0, 0), nil},
		{"too few", "!1,0,0!", Reading{}, ErrMalformedFrame},
		{"empty", "!!", Reading{}, ErrMalformedFrame},
		{"not a number", "!1,0,x,1,0,0,1!", Reading{}, ErrMalformedFrame},
		{"out of range", "!1,0,0,5,0,0,1!", Reading{}, ErrOutOfRangeField},
		{"explicit sign", "!+1,0,0,1,0,0,1!", Reading{}, ErrOutOfRangeField},
		{"leading zero", "!01,0,0,1,0,0,1!", Reading{}, ErrOutOfRangeField},
		{"negative zero", "!1,-0,0,1,0,0,1!", Reading{}, ErrOutOfRangeField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder('!', FormatASCII)
			frames := d.Feed([]byte(tt.input))
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if tt.wantErr != nil {
				if !errors.Is(frames[0].Err, tt.wantErr) {
					t.Errorf("err = %v, want %v", frames[0].Err, tt.wantErr)
				}
				return
			}
			if frames[0].Err != nil {
				t.Fatalf("unexpected error: %v", frames[0].Err)
			}
			if frames[0].Reading != tt.want {
				t.Errorf("reading = %v, want %v", frames[0].Reading, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("ASCII"); err != nil || f != FormatASCII {
		t.Errorf("ParseFormat(ASCII) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatBinary {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("hex"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestReset(t *testing.T) {
	d := NewDecoder(delim, FormatBinary)
	d.Feed([]byte{delim, 1, 0, 0})
	d.Reset()

	// partial frame is gone and the decoder waits for a new delimiter
	frames := d.Feed([]byte{1, 0, 0, 0, delim, 1, 0, 0, 0, 0, 0, 0, delim})
	if len(frames) != 1 || frames[0].Err != nil {
		t.Fatalf("frames = %+v, want one valid frame", frames)
	}
}
