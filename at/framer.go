package at

import (
	"errors"
	"io"
	"time"
)

// ErrLineTooLong is returned by Framer.Next when a line does not fit the
// framer buffer. The partial line is dropped and framing resumes after the
// next CRLF.
var ErrLineTooLong = errors.New("response line too long")

// Kind tells what a Record holds.
type Kind int

const (
	KindLine   Kind = iota // a CRLF-terminated line, terminator stripped
	KindPrompt             // the data-ready prompt
)

// Record is one framed unit of modem output.
type Record struct {
	Kind Kind
	Text string
}

// DefaultFramerSize is the buffer size used when NewFramer is given a
// non-positive size.
const DefaultFramerSize = 1024

// Framer splits the byte stream coming from the modem into records. It owns
// a fixed size buffer; bytes read from the underlying reader but not yet
// consumed stay in it, so a caller can switch between line framing (Next)
// and raw reads (ReadRaw) without losing data.
//
// A Framer is not safe for concurrent use. It is meant to be driven by the
// single reader goroutine of the modem.
type Framer struct {
	r     io.Reader
	buf   []byte
	start int
	end   int
	// discarding is set after an overflow until the end of the
	// oversized line has been seen.
	discarding bool
}

// NewFramer returns a Framer reading from r with a buffer of size bytes.
func NewFramer(r io.Reader, size int) *Framer {
	switch {
	case size <= 0:
		size = DefaultFramerSize
	case size < 2*len(CRLF):
		size = 2 * len(CRLF)
	}
	return &Framer{r: r, buf: make([]byte, size)}
}

// Next returns the next non-empty record. It blocks in the underlying
// reader until a full record is available.
//
// ErrLineTooLong is not fatal: the framer has already resynchronised and
// the next call continues with the following line. Any other error comes
// from the reader and ends the stream.
func (f *Framer) Next() (Record, error) {
	for {
		if f.start < f.end {
			advance, token, _ := Splitter(f.buf[f.start:f.end], false)
			if advance > 0 {
				f.start += advance
				if f.discarding {
					f.discarding = false
					continue
				}
				if len(token) == len(Prompt) && string(token) == Prompt {
					return Record{Kind: KindPrompt, Text: Prompt}, nil
				}
				if len(token) == 0 {
					continue
				}
				return Record{Kind: KindLine, Text: string(token)}, nil
			}
		}
		if err := f.fill(); err != nil {
			return Record{}, err
		}
	}
}

// Buffered returns the number of bytes read from the underlying reader
// that have not been consumed yet.
func (f *Framer) Buffered() int {
	return f.end - f.start
}

// ReadRaw fills p with the next len(p) bytes of the stream regardless of
// their content. Buffered bytes are consumed first. A read that brings no
// data counts as one attempt and is retried after delay; ReadRaw gives up
// after attempts consecutive empty reads and returns the bytes copied so
// far with io.ErrNoProgress.
func (f *Framer) ReadRaw(p []byte, attempts int, delay time.Duration) (int, error) {
	n := copy(p, f.buf[f.start:f.end])
	f.start += n

	empty := 0
	for n < len(p) {
		m, err := f.r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= attempts {
			return n, io.ErrNoProgress
		}
		time.Sleep(delay)
	}
	return n, nil
}

// fill reads more data into the buffer, compacting it first. If the buffer
// is full without a delimiter the content is dropped and ErrLineTooLong
// returned.
func (f *Framer) fill() error {
	if f.start > 0 {
		copy(f.buf, f.buf[f.start:f.end])
		f.end -= f.start
		f.start = 0
	}

	if f.end == len(f.buf) {
		// keep a trailing CR, it may be the first half of the terminator
		keep := 0
		if f.buf[f.end-1] == '\r' {
			f.buf[0] = '\r'
			keep = 1
		}
		f.end = keep
		if !f.discarding {
			f.discarding = true
			return ErrLineTooLong
		}
	}

	n, err := f.r.Read(f.buf[f.end:])
	f.end += n
	if n > 0 {
		return nil
	}
	if err == nil {
		// zero-length read, e.g. a serial read timeout
		return nil
	}
	return err
}
