package worker

import "io"

// newPipe returns a connected reader/writer pair backed by an in-memory
// pipe, used to wire up a Dispatcher and a test client with two Transports
// facing each other without touching a real subprocess.
func newPipe() (io.Reader, io.Writer) {
	r, w := io.Pipe()
	return r, w
}
