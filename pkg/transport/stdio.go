package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/protocol"
)

// StdioTransport reads JSON-RPC messages from a stream and writes newline delimited responses.
// Messages are delimited by brace depth, so pretty printed requests spanning lines are fine.
type StdioTransport struct {
	reader *bufio.Reader
	mu     sync.Mutex
	writer *bufio.Writer
}

// NewStdioTransport creates a new transport that uses stdin/stdout
func NewStdioTransport() *StdioTransport {
	return NewStreamTransport(os.Stdin, os.Stdout)
}

// NewStreamTransport creates a transport over any reader and writer
func NewStreamTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
	}
}

// ReadRequest reads the next JSON object. io.EOF means the client went away between messages;
// a malformed message is returned as a *protocol.JsonRpcError and the stream stays usable.
func (t *StdioTransport) ReadRequest() (*protocol.JsonRpcRequest, error) {
	var data []byte
	var depth int
	var inString, escapeNext bool

	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if depth > 0 {
					return nil, io.ErrUnexpectedEOF
				}
				logger.Info("Received EOF, client disconnected")
			}
			return nil, err
		}
		if depth == 0 && !inString && b != '{' {
			// whitespace and stray bytes between messages
			continue
		}
		data = append(data, b)

		switch {
		case escapeNext:
			escapeNext = false
		case inString && b == '\\':
			escapeNext = true
		case b == '"':
			inString = !inString
		case !inString && b == '{':
			depth++
		case !inString && b == '}':
			depth--
		}
		if depth == 0 && len(data) > 0 {
			break
		}
	}

	logger.Debug("Received raw request:", string(data))
	return protocol.ParseJsonRpcRequest(data)
}

// WriteResponse writes one response followed by a newline and flushes
func (t *StdioTransport) WriteResponse(response *protocol.JsonRpcResponse) error {
	responseBytes, err := json.Marshal(response)
	if err != nil {
		logger.Error("Failed to marshal response:", err)
		return err
	}
	responseBytes = append(responseBytes, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(responseBytes); err != nil {
		logger.Error("Failed to write response:", err)
		return err
	}
	if err := t.writer.Flush(); err != nil {
		logger.Error("Failed to flush response:", err)
		return err
	}
	logger.Debug("Sent response:", string(responseBytes))
	return nil
}
