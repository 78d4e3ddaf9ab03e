package handlers

import (
	"bytes"
	"context"
	"log/slog"

	"eiobot/internal/dispatcher"
)

// LogEvent 以 Info 级别打印事件及其参数
func LogEvent(event string) dispatcher.Handler {
	return func(ctx context.Context, args dispatcher.Args) error {
		attrs := make([]any, 0, 4)
		attrs = append(attrs, "event", event, "argc", args.Len())
		if args.Len() > 0 {
			attrs = append(attrs, "args", formatArgs(args))
		}
		slog.InfoContext(ctx, "event received", attrs...)
		return nil
	}
}

// formatArgs 把参数拼成一个JSON数组字符串
func formatArgs(args dispatcher.Args) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, a := range args {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(a)
	}
	buf.WriteByte(']')
	return buf.String()
}
