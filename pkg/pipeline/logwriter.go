package pipeline

import (
	"bytes"
	"io"
	"sync"

	"github.com/loykin/piperun/internal/common"
)

const maxPending = 64 << 10

// maskingWriter masks registered secrets line by line before they reach w.
type maskingWriter struct {
	mu  sync.Mutex
	w   io.Writer
	m   *common.Masker
	buf []byte
}

func newMaskingWriter(w io.Writer, m *common.Masker) *maskingWriter {
	return &maskingWriter{w: w, m: m}
}

func (mw *maskingWriter) Write(p []byte) (int, error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.buf = append(mw.buf, p...)
	cut := bytes.LastIndexByte(mw.buf, '\n')
	if cut < 0 && len(mw.buf) < maxPending {
		return len(p), nil
	}
	end := cut + 1
	if cut < 0 {
		// no line break in sight: flush what cannot be part of a secret
		end = mw.m.SafeCut(mw.buf, len(mw.buf))
		if end == 0 {
			end = len(mw.buf)
		}
	}
	if err := mw.emit(mw.buf[:end]); err != nil {
		return 0, err
	}
	mw.buf = append(mw.buf[:0], mw.buf[end:]...)
	return len(p), nil
}

// Flush writes any unterminated tail.
func (mw *maskingWriter) Flush() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if len(mw.buf) == 0 {
		return nil
	}
	err := mw.emit(mw.buf)
	mw.buf = mw.buf[:0]
	return err
}

func (mw *maskingWriter) emit(b []byte) error {
	_, err := io.WriteString(mw.w, mw.m.MaskString(string(b)))
	return err
}
