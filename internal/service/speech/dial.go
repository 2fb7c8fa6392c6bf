package speech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const maxDialAttempts = 3

// dialWithRetry 建立 TTS 连接，网络抖动类错误按线性退避重试，握手被拒绝（4xx）直接返回。
func dialWithRetry(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxDialAttempts; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !isRetryableDialError(err, resp) {
			break
		}

		delay := time.Duration(attempt+1) * 200 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, nil, fmt.Errorf("websocket dial failed: %w", lastErr)
}

func isRetryableDialError(err error, resp *http.Response) bool {
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway)
}
