package chat

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Chunks reads an event stream and yields the decoded text of every
// "data: " line in arrival order. The sequence is finite and cannot be
// restarted: it consumes r. It ends at the done sentinel or at EOF. A decode
// or read error is yielded once and ends the sequence.
func Chunks(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			line, err := br.ReadString('\n')
			if isDone(line) {
				return
			}
			if line != "" {
				chunk, ok, perr := parseLine(line)
				if perr != nil {
					yield("", perr)
					return
				}
				if ok && !yield(chunk, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read stream: %w", err))
				return
			}
		}
	}
}

// parseLine returns the chunk carried by one line, ok=false for lines that
// carry none (other SSE fields, blank lines).
func parseLine(line string) (string, bool, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, nil
	}
	raw := strings.TrimPrefix(line, dataPrefix)
	var chunk string
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
		return "", false, fmt.Errorf("decode chunk %q: %w", raw, err)
	}
	return chunk, true, nil
}

func isDone(line string) bool {
	return strings.TrimRight(line, "\r\n") == dataPrefix+doneSentinel
}
