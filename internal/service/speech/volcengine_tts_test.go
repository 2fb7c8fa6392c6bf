package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
		{name: "legacy 1.0 voice", voice: "zh_male_organizer", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
	}

	for _, tt := range tests {
		got := resolveTTSResourceCandidates(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSResourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestResolveTTSSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{
			name:     "request and fallback",
			request:  "custom-voice",
			fallback: "zh_female_vv_uranus_bigtts",
			want:     []string{"custom-voice", "zh_female_vv_uranus_bigtts", "en_female_amy_jupiter_bigtts"},
		},
		{
			name:     "duplicates ignored",
			request:  "EN_FEMALE_AMY_JUPITER_BIGTTS",
			fallback: "en_female_amy_jupiter_bigtts",
			want:     []string{"EN_FEMALE_AMY_JUPITER_BIGTTS"},
		},
		{
			name:     "interviewer alias",
			request:  "interviewer_zh",
			fallback: "",
			want:     []string{"zh_male_M392_conversation_wvae_bigtts", "en_female_amy_jupiter_bigtts"},
		},
	}

	for _, tt := range tests {
		got := resolveTTSSpeakerCandidates(tt.request, tt.fallback)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSSpeakerCandidates(%q, %q) = %v, want %v", tt.name, tt.request, tt.fallback, got, tt.want)
		}
	}
}

func TestIsResourceMismatchError(t *testing.T) {
	if isResourceMismatchError(nil) {
		t.Fatal("nil error should not be a mismatch")
	}
	if isResourceMismatchError(fmt.Errorf("some other error")) {
		t.Fatal("unrelated error should not be a mismatch")
	}
	if !isResourceMismatchError(fmt.Errorf(`tts error 1: {"error":"resource ID is mismatched with speaker related resource"}`)) {
		t.Fatal("expected mismatch substring to be detected")
	}
}

func TestProtocolRoundTripWithEvent(t *testing.T) {
	msg := &Message{
		Header: Header{
			MessageType:         FullServerResponse,
			MessageFlags:        WithEvent,
			SerializationMethod: JSONSerialization,
		},
		EventType: EventTypeSessionFinished,
		SessionID: "sess-1",
		Payload:   []byte(`{"code":0}`),
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}
	got, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if !got.IsSessionFinished() || got.SessionID != "sess-1" || string(got.Payload) != `{"code":0}` {
		t.Fatalf("unexpected decoded message: %+v", got)
	}
}

// fakeTTSServer 模拟火山引擎单向流式接口，按 resourceID 决定行为。
func fakeTTSServer(t *testing.T, handle func(conn *websocket.Conn, resourceID string)) (*httptest.Server, *int32) {
	t.Helper()
	var dials int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := DecodeMessage(bytes.NewReader(data))
		if err != nil || req.Header.MessageType != FullClientRequest {
			return
		}
		handle(conn, r.Header.Get("X-Api-Resource-Id"))
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg *Message) {
	t.Helper()
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Errorf("encode: %v", err)
		return
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, data)
}

func testSpeechConfig() config.SpeechConfig {
	return config.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		TTSVoice:    "en_female_amy_jupiter_bigtts",
		Timeout:     5,
		Enabled:     true,
	}
}

func TestStreamPCMYieldsAudioChunks(t *testing.T) {
	srv, _ := fakeTTSServer(t, func(conn *websocket.Conn, _ string) {
		writeFrame(t, conn, &Message{Header: Header{MessageType: AudioOnlyServerResponse}, Payload: []byte{1, 2, 3, 4}})
		body, _ := json.Marshal(ttsServerMessage{Data: base64.StdEncoding.EncodeToString([]byte{5, 6})})
		writeFrame(t, conn, &Message{Header: Header{MessageType: FullServerResponse}, Payload: body})
		writeFrame(t, conn, &Message{
			Header:    Header{MessageType: FullServerResponse, MessageFlags: WithEvent},
			EventType: EventTypeSessionFinished,
		})
	})

	client := NewVolcengineTTSClient(testSpeechConfig(), 24000).WithURL("ws" + strings.TrimPrefix(srv.URL, "http"))

	var got []byte
	for chunk, err := range client.StreamPCM(context.Background(), "Hello Alice") {
		if err != nil {
			t.Fatalf("StreamPCM err: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected pcm: %v", got)
	}
}

func TestStreamPCMFallsBackOnResourceMismatch(t *testing.T) {
	srv, dials := fakeTTSServer(t, func(conn *websocket.Conn, resourceID string) {
		if resourceID == "seed-tts-2.0" {
			writeFrame(t, conn, &Message{
				Header:    Header{MessageType: ErrorMessage},
				ErrorCode: 45000000,
				Payload:   []byte(`{"error":"resource ID is mismatched with speaker related resource"}`),
			})
			return
		}
		writeFrame(t, conn, &Message{Header: Header{MessageType: AudioOnlyServerResponse, MessageFlags: LastPacketNoSequence}, Payload: []byte{9, 9}})
	})

	client := NewVolcengineTTSClient(testSpeechConfig(), 24000).WithURL("ws" + strings.TrimPrefix(srv.URL, "http"))

	var got []byte
	for chunk, err := range client.StreamPCM(context.Background(), "Question one") {
		if err != nil {
			t.Fatalf("StreamPCM err: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, []byte{9, 9}) {
		t.Fatalf("unexpected pcm: %v", got)
	}
	if atomic.LoadInt32(dials) != 2 {
		t.Fatalf("expected fallback to a second resource, dials=%d", atomic.LoadInt32(dials))
	}
}

func TestServiceSynthesizeWithoutCredentials(t *testing.T) {
	svc := NewService(config.SpeechConfig{}, 24000)

	for _, err := range svc.Synthesize(context.Background(), "hi") {
		if !errors.Is(err, ErrSynthesizerUnavailable) {
			t.Fatalf("expected ErrSynthesizerUnavailable, got %v", err)
		}
		return
	}
	t.Fatal("expected one error element")
}

func TestStreamPCMRejectsEmptyText(t *testing.T) {
	client := NewVolcengineTTSClient(testSpeechConfig(), 24000)
	for _, err := range client.StreamPCM(context.Background(), "   ") {
		if !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText, got %v", err)
		}
	}
}
