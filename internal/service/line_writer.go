package service

import (
	"bytes"
	"sync"
)

// lineWriter splits a byte stream into lines and hands each one, without
// its newline, to emit. A trailing partial line is held until Flush.
type lineWriter struct {
	mu      sync.Mutex
	buf     []byte
	maxLine int
	emit    func(string)
}

func newLineWriter(maxLine int, emit func(string)) *lineWriter {
	return &lineWriter{maxLine: maxLine, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.buf[:i], []byte("\r"))))
		w.buf = w.buf[i+1:]
	}
	if w.maxLine > 0 && len(w.buf) >= w.maxLine {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
