package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var (
	recordDelimiter = []byte("\n\n")
	dataPrefix      = []byte("data:")
)

// Writer 把事件编码为 "data: <json>\n\n" 记录写出，底层支持时立即 Flush。
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter 创建 SSE 写入器。
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Emit 实现 Sink 接口。
func (w *Writer) Emit(_ context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// MalformedRecord 描述一条无法解码的记录。
type MalformedRecord struct {
	Record []byte
	Err    error
}

// Decoder 以增量方式解析 SSE 字节流：缓存输入，按空行切分完整记录，
// 保留末尾不完整的片段等待下一次输入。
type Decoder struct {
	buf []byte
}

// Feed 写入一段字节，返回其中所有完整记录解码出的事件与解码失败的记录。
func (d *Decoder) Feed(chunk []byte) ([]Event, []MalformedRecord) {
	d.buf = append(d.buf, chunk...)

	var (
		events    []Event
		malformed []MalformedRecord
	)
	for {
		idx := bytes.Index(d.buf, recordDelimiter)
		if idx < 0 {
			break
		}
		record := d.buf[:idx]
		d.buf = d.buf[idx+len(recordDelimiter):]

		event, ok, err := decodeRecord(record)
		switch {
		case err != nil:
			malformed = append(malformed, MalformedRecord{Record: append([]byte(nil), record...), Err: err})
		case ok:
			events = append(events, event)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events, malformed
}

// Flush 在传输结束时处理缓存中剩余的片段。
func (d *Decoder) Flush() ([]Event, []MalformedRecord) {
	if len(bytes.TrimSpace(d.buf)) == 0 {
		d.buf = nil
		return nil, nil
	}
	return d.Feed(recordDelimiter)
}

// Pending 返回尚未组成完整记录的字节数。
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// decodeRecord 合并记录中的 data 行并解码为事件；不含 data 行的记录（注释、心跳）被忽略。
func decodeRecord(record []byte) (Event, bool, error) {
	var data [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		value := bytes.TrimPrefix(line, dataPrefix)
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, value)
	}
	if len(data) == 0 {
		return Event{}, false, nil
	}

	payload := bytes.Join(data, []byte("\n"))
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, false, fmt.Errorf("decode event: %w", err)
	}
	if event.Kind == "" && event.Status.State == "" {
		return Event{}, false, fmt.Errorf("decode event: missing kind and status")
	}
	event.Raw = append(json.RawMessage(nil), payload...)
	return event, true, nil
}
