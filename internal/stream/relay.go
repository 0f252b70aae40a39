package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"StayRelay/pkg/logger"
)

const defaultReadSize = 4096

// RelayStats 汇总一次转发的结果。
type RelayStats struct {
	Events    int
	Malformed int
	SawFinal  bool
}

// RelayOption 定制转发行为。
type RelayOption func(*relayOptions)

type relayOptions struct {
	readSize int
	log      *slog.Logger
}

// WithReadSize 设置单次读取的缓冲区大小。
func WithReadSize(size int) RelayOption {
	return func(o *relayOptions) {
		if size > 0 {
			o.readSize = size
		}
	}
}

// WithLogger 设置记录坏帧使用的日志器。
func WithLogger(log *slog.Logger) RelayOption {
	return func(o *relayOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// Relay 从 r 读取下游事件流并按原顺序写入 sink，直到传输结束（EOF）。
// 是否已收到 final 事件不影响读取循环；坏帧被记录并丢弃。
func Relay(ctx context.Context, r io.Reader, sink Sink, opts ...RelayOption) (RelayStats, error) {
	options := relayOptions{readSize: defaultReadSize}
	for _, opt := range opts {
		opt(&options)
	}
	if options.log == nil {
		options.log = logger.Named("relay")
	}

	var (
		stats   RelayStats
		decoder Decoder
		buf     = make([]byte, options.readSize)
	)

	forward := func(events []Event, malformed []MalformedRecord) error {
		for _, record := range malformed {
			stats.Malformed++
			options.log.Warn("丢弃无法解析的下游事件",
				slog.String("record", truncate(string(record.Record), 256)),
				slog.Any("error", record.Err))
		}
		for _, event := range events {
			if err := sink.Emit(ctx, event); err != nil {
				return fmt.Errorf("relay emit: %w", err)
			}
			stats.Events++
			if event.Final {
				stats.SawFinal = true
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := forward(decoder.Feed(buf[:n])); err != nil {
				return stats, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return stats, forward(decoder.Flush())
			}
			return stats, fmt.Errorf("relay read: %w", readErr)
		}
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
