package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kalambet/vinq/internal/predlog"
)

// tailLogs prints prediction log entries streamed by the server until ctx is
// cancelled or the server closes the connection.
func tailLogs(ctx context.Context, c *apiClient, w io.Writer) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/admin/logs/stream"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return decodeJSON(resp, nil)
		}
		return fmt.Errorf("server not reachable, is vinq running? (%w)", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Fprintln(w, colorize(colorBold, "Waiting for predictions (Ctrl-C to stop)..."))
	for {
		var e predlog.Entry
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		printEntry(w, e)
	}
}
