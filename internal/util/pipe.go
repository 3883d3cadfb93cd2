package util

import (
	"io"
	"sync"
)

// closeWriter is implemented by connections that support half-close
// (*net.TCPConn, *net.UnixConn).
type closeWriter interface {
	CloseWrite() error
}

// Pipe copies a→b and b→a until both directions are finished and returns the
// byte counts. A direction that ends with a clean EOF half-closes its
// destination when possible; any error, or a destination without half-close,
// closes both ends so the opposite copy unblocks.
func Pipe(a, b io.ReadWriteCloser) (aToB, bToA int64) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	copyHalf := func(dst, src io.ReadWriteCloser, n *int64) {
		defer wg.Done()
		var err error
		*n, err = io.Copy(dst, src)
		if err == nil {
			if cw, ok := dst.(closeWriter); ok && cw.CloseWrite() == nil {
				return
			}
		}
		closeBoth()
	}

	go copyHalf(b, a, &aToB)
	go copyHalf(a, b, &bToA)

	wg.Wait()
	closeBoth()
	return aToB, bToA
}
