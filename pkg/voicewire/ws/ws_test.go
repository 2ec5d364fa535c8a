package ws_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/voxgate/pkg/voicewire"
	"github.com/MrWong99/voxgate/pkg/voicewire/ws"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startVoiceServer launches a test WebSocket server that hands each accepted
// connection to handler. The server is closed when the test finishes.
func startVoiceServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeRaw sends data as a text frame.
func writeRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		t.Logf("writeRaw: %v (may be expected on close)", err)
	}
}

// readJSON reads one text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func dial(t *testing.T, srv *httptest.Server, req voicewire.ConnectRequest) voicewire.Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ch, err := ws.New(wsURL(srv)).Dial(ctx, req)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestEndpoint(t *testing.T) {
	t.Parallel()
	d := ws.New("wss://voice.example.com/")
	got := d.Endpoint(voicewire.ConnectRequest{ConversationID: "conv 1", AgentID: "mira", Token: "tok"})
	want := "wss://voice.example.com/ws/voice/conv%201?coach_id=mira&token=tok"
	if got != want {
		t.Errorf("Endpoint = %q, want %q", got, want)
	}
}

func TestDial_Handshake(t *testing.T) {
	t.Parallel()

	type handshake struct {
		path, token, coach, auth string
	}
	got := make(chan handshake, 1)
	srv := startVoiceServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- handshake{
			path:  r.URL.Path,
			token: r.URL.Query().Get("token"),
			coach: r.URL.Query().Get("coach_id"),
			auth:  r.Header.Get("Authorization"),
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	dial(t, srv, voicewire.ConnectRequest{ConversationID: "c-42", AgentID: "mira", Token: "secret"})

	select {
	case h := <-got:
		want := handshake{path: "/ws/voice/c-42", token: "secret", coach: "mira", auth: "Bearer secret"}
		if h != want {
			t.Errorf("handshake = %+v, want %+v", h, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestDial_Unauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := ws.New(wsURL(srv)).Dial(testCtx(t), voicewire.ConnectRequest{ConversationID: "c", Token: "bad"})
	if !errors.Is(err, voicewire.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestDial_RequiresConversation(t *testing.T) {
	t.Parallel()
	if _, err := ws.New("ws://127.0.0.1:1").Dial(testCtx(t), voicewire.ConnectRequest{}); err == nil {
		t.Fatal("expected error for empty conversation id")
	}
}

func TestSend_AudioFrame(t *testing.T) {
	t.Parallel()

	type frame struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	got := make(chan frame, 2)
	srv := startVoiceServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for range 2 {
			var f frame
			readJSON(t, conn, &f)
			got <- f
		}
	})

	ch := dial(t, srv, voicewire.ConnectRequest{ConversationID: "c", Token: "t"})
	ctx := testCtx(t)
	if err := ch.Send(ctx, voicewire.AudioMessage([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("Send audio: %v", err)
	}
	if err := ch.Send(ctx, voicewire.EndSessionMessage()); err != nil {
		t.Fatalf("Send end_session: %v", err)
	}

	want := []frame{
		{Type: "audio", Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})},
		{Type: "end_session"},
	}
	for i, w := range want {
		select {
		case f := <-got:
			if f != w {
				t.Errorf("frame %d = %+v, want %+v", i, f, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestReceive_SkipsUnknownAndMalformed(t *testing.T) {
	t.Parallel()
	srv := startVoiceServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeRaw(t, conn, `{"type":"transcript","role":"user","text":"hello"}`)
		writeRaw(t, conn, `{"type":"mystery"}`)
		writeRaw(t, conn, `{{{`)
		_ = conn.Write(context.Background(), websocket.MessageBinary, []byte{0xff})
		writeRaw(t, conn, `{"type":"audio","data":"AAE="}`)
		writeRaw(t, conn, `{"type":"turn_complete"}`)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, srv, voicewire.ConnectRequest{ConversationID: "c", Token: "t"})
	ctx := testCtx(t)

	want := []voicewire.Inbound{
		{Kind: voicewire.KindTranscript, Role: "user", Text: "hello"},
		{Kind: voicewire.KindAudio, Audio: []byte{0, 1}},
		{Kind: voicewire.KindTurnComplete},
	}
	var got []voicewire.Inbound
	for range want {
		in, err := ch.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got = append(got, in)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("received mismatch (-want +got):\n%s", diff)
	}
}

func TestReceive_RemoteCloseIsErrClosed(t *testing.T) {
	t.Parallel()
	srv := startVoiceServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeRaw(t, conn, `{"type":"session_ended","duration_minutes":1.5}`)
	})

	ch := dial(t, srv, voicewire.ConnectRequest{ConversationID: "c", Token: "t"})
	ctx := testCtx(t)

	in, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if in.Kind != voicewire.KindSessionEnded || in.DurationMinutes != 1.5 {
		t.Errorf("got %+v", in)
	}
	if _, err := ch.Receive(ctx); !errors.Is(err, voicewire.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestCloseSend_BlocksFurtherSends(t *testing.T) {
	t.Parallel()
	srv := startVoiceServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	ch := dial(t, srv, voicewire.ConnectRequest{ConversationID: "c", Token: "t"})

	if err := ch.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	if err := ch.Send(testCtx(t), voicewire.AudioMessage([]byte{0, 0})); !errors.Is(err, voicewire.ErrClosed) {
		t.Errorf("Send after CloseSend = %v, want ErrClosed", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClose_StopsKeepaliveAndUnblocksReceive(t *testing.T) {
	t.Parallel()
	srv := startVoiceServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx := testCtx(t)
	d := ws.New(wsURL(srv), ws.WithKeepaliveInterval(10*time.Millisecond))
	ch, err := d.Dial(ctx, voicewire.ConnectRequest{ConversationID: "c", Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	recvErr := make(chan error, 1)
	go func() {
		_, err := ch.Receive(ctx)
		recvErr <- err
	}()

	// Let a few keepalive pings go out while the read is pending.
	time.Sleep(50 * time.Millisecond)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-recvErr:
		if !errors.Is(err, voicewire.ErrClosed) {
			t.Errorf("Receive after Close = %v, want ErrClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
}
