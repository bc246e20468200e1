package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event: the event name (may be empty) and the
// concatenated data payload.
type sseEvent struct {
	name string
	data string
}

// readSSE scans a server-sent-event stream and invokes handle for each
// complete event. It returns the first error from the reader or handler.
func readSSE(r io.Reader, handle func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var name string
	var data strings.Builder

	flush := func() error {
		if data.Len() == 0 && name == "" {
			return nil
		}
		ev := sseEvent{name: name, data: data.String()}
		name = ""
		data.Reset()
		if ev.data == "" || ev.data == "[DONE]" {
			return nil
		}
		return handle(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
