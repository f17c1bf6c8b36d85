package shim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tallr-dev/tallrd/internal/log"
)

// MessageType enumerates the descriptor protocol's message kinds, both
// directions.
type MessageType string

const (
	TypeFetchStart        MessageType = "fetch-start"
	TypeFetchEnd           MessageType = "fetch-end"
	TypePermissionPrompt   MessageType = "permission-prompt"
	TypePermissionRequest  MessageType = "permission-request"
	TypePermissionResponse MessageType = "permission-response"
	TypeClaudeMessage      MessageType = "claude-message"
)

// Tool describes the tool-call a permission-request is asking about.
type Tool struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is the union of every shape that can appear on fd 3 or fd 4. Only
// the fields relevant to Type are populated; the rest are zero.
type Message struct {
	Type      MessageType `json:"type"`
	ID        json.Number `json:"id,omitempty"`
	Hostname  string      `json:"hostname,omitempty"`
	Path      string      `json:"path,omitempty"`
	Method    string      `json:"method,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Tool      *Tool       `json:"tool,omitempty"`
	Content   string      `json:"content,omitempty"`
	Decision  string      `json:"decision,omitempty"`
}

// Decision values for a permission-response.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// maxProtocolErrors bounds how many malformed lines in a row the reader
// tolerates before giving up and detaching, per the error-handling design:
// discard bad lines, but detach after repeated errors.
const maxProtocolErrors = 10

// Reader decodes newline-delimited JSON Messages from fd 3.
type Reader struct {
	scanner *bufio.Scanner
	errs    int
}

// NewReader wraps fd (the child's end of descriptor 3, read from the
// supervisor's side) in a Reader.
func NewReader(fd *os.File) *Reader {
	return &Reader{scanner: bufio.NewScanner(fd)}
}

// Next blocks for the next well-formed Message, discarding malformed lines.
// It returns io.EOF once the descriptor closes, or an error once
// maxProtocolErrors consecutive malformed lines have been seen.
func (r *Reader) Next() (Message, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			r.errs++
			log.Debug(log.CatNetwork, "discarding malformed shim message", "error", err)
			if r.errs > maxProtocolErrors {
				return Message{}, fmt.Errorf("shim: %d consecutive malformed messages, detaching", r.errs)
			}
			continue
		}
		r.errs = 0
		return msg, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Writer encodes Messages as newline-delimited JSON onto fd 4.
type Writer struct {
	w io.Writer
}

// NewWriter wraps fd (the supervisor's end of descriptor 4) in a Writer.
func NewWriter(fd *os.File) *Writer {
	return &Writer{w: fd}
}

// WritePermissionResponse sends a decision for the given request id.
func (w *Writer) WritePermissionResponse(id string, decision string) error {
	data, err := json.Marshal(Message{
		Type:     TypePermissionResponse,
		ID:       json.Number(id),
		Decision: decision,
	})
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.w.Write(data)
	return err
}
