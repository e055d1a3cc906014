package gguf

import (
	"bufio"
	"io"
)

// bufferedReader zaehlt die gelesenen Bytes fuer die Offset-Berechnung.
type bufferedReader struct {
	offset int64
	*bufio.Reader
}

func newBufferedReader(rs io.Reader, size int) *bufferedReader {
	return &bufferedReader{
		Reader: bufio.NewReaderSize(rs, size),
	}
}

func (rs *bufferedReader) Read(p []byte) (n int, err error) {
	n, err = rs.Reader.Read(p)
	rs.offset += int64(n)
	return n, err
}
