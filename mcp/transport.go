package mcp

import "io"

// stdioTransport joins a process's stdout (reads) and stdin (writes) into
// the single stream the JSON-RPC connection expects.
type stdioTransport struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (t *stdioTransport) Read(p []byte) (int, error)  { return t.reader.Read(p) }
func (t *stdioTransport) Write(p []byte) (int, error) { return t.writer.Write(p) }

func (t *stdioTransport) Close() error {
	_ = t.reader.Close()
	return t.writer.Close()
}
