package esp

// SLIP framing bytes.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// slipEncode wraps a packet in END delimiters and escapes special bytes.
func slipEncode(packet []byte) []byte {
	out := make([]byte, 0, len(packet)+8)
	out = append(out, slipEnd)
	for _, b := range packet {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

// frameReader reassembles SLIP frames from a byte stream that may split
// or merge them arbitrarily.
type frameReader struct {
	buf     []byte
	inFrame bool
	escaped bool
	frames  [][]byte
}

// feed consumes raw bytes and queues every completed frame.
func (r *frameReader) feed(data []byte) {
	for _, b := range data {
		if !r.inFrame {
			if b == slipEnd {
				r.inFrame = true
				r.buf = r.buf[:0]
			}
			continue
		}

		switch {
		case r.escaped:
			r.escaped = false
			switch b {
			case slipEscEnd:
				r.buf = append(r.buf, slipEnd)
			case slipEscEsc:
				r.buf = append(r.buf, slipEsc)
			default:
				r.buf = append(r.buf, b)
			}
		case b == slipEsc:
			r.escaped = true
		case b == slipEnd:
			if len(r.buf) == 0 {
				// Back-to-back delimiters: stay in frame.
				continue
			}
			frame := make([]byte, len(r.buf))
			copy(frame, r.buf)
			r.frames = append(r.frames, frame)
			r.buf = r.buf[:0]
			r.inFrame = false
		default:
			r.buf = append(r.buf, b)
		}
	}
}

// next pops the oldest completed frame.
func (r *frameReader) next() ([]byte, bool) {
	if len(r.frames) == 0 {
		return nil, false
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, true
}

// reset drops partial and queued frames.
func (r *frameReader) reset() {
	r.buf = r.buf[:0]
	r.frames = nil
	r.inFrame = false
	r.escaped = false
}
