package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry 最多执行 'attempts' 次 'operation'，失败时以指数退避等待后重试。
// operationName 用于日志记录。
// initialBackoff 是第一次重试前的等待时间，为0时立即重试。
// maxBackoff 是退避时间上限。
// 返回实际执行的次数，以及最后一次失败的错误（已包装）。
func Retry(ctx context.Context, operationName string, attempts int, initialBackoff, maxBackoff time.Duration, operation func(attempt int) error) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	currentBackoff := initialBackoff
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, err
		}

		lastErr = operation(i)
		if lastErr == nil {
			if i > 1 {
				slog.Debug("operation successful after retry", "operation", operationName, "attempt", i)
			}
			return i, nil
		}
		slog.Debug("attempt failed", "operation", operationName, "attempt", i, "error", lastErr)

		if i == attempts {
			break
		}

		if currentBackoff > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(currentBackoff):
			}

			// 计算下一次重试的退避时间
			currentBackoff = time.Duration(float64(currentBackoff) * 1.5)
			if maxBackoff > 0 && currentBackoff > maxBackoff {
				currentBackoff = maxBackoff
			}
		}
	}

	slog.Error("operation failed after all attempts", "operation", operationName, "attempts", attempts, "error", lastErr)
	return attempts, fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
