package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/vinq/internal/auth"
	"github.com/kalambet/vinq/internal/model/modeltest"
	"github.com/kalambet/vinq/internal/predlog"
)

func TestLogStream(t *testing.T) {
	env := setupEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/logs/stream?token=" + env.token(t, auth.RoleAdmin)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v (response %v)", err, resp)
	}
	defer conn.Close()

	// The server subscribes just after the handshake, so keep predicting
	// until an entry arrives.
	stop := make(chan struct{})
	defer close(stop)
	body := payloadJSON(t, modeltest.Payload())
	go func() {
		for {
			resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
			select {
			case <-stop:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e predlog.Entry
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if e.Prediction != "low" || e.Source != "predict" || e.ID == "" {
		t.Errorf("streamed entry = %+v", e)
	}
}

func TestLogStream_RequiresAdmin(t *testing.T) {
	env := setupEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/logs/stream?token=" + env.token(t, auth.RoleUser)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure for non-admin token")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}
