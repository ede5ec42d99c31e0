package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

// fakeAutomationService mimics the external WhatsApp automation service.
type fakeAutomationService struct {
	mu       sync.Mutex
	ready    bool
	chats    []Chat
	messages []map[string]string
	videos   []map[string]string
}

func (f *fakeAutomationService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "running",
			"whatsapp_ready": f.ready,
		})
	})

	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "WhatsApp is not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"chats": f.chats, "total": len(f.chats)})
	})

	mux.HandleFunc("POST /send-message", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.messages = append(f.messages, body)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("POST /send-video", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.videos = append(f.videos, body)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	return mux
}

func newFakeService(t *testing.T, ready bool, chats []Chat) (*fakeAutomationService, *WhatsAppClient) {
	t.Helper()

	fake := &fakeAutomationService{ready: ready, chats: chats}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return fake, NewWhatsAppClient(srv.URL)
}

func TestStatus_ReportsReadiness(t *testing.T) {
	t.Parallel()

	_, client := newFakeService(t, true, nil)

	ready, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !ready {
		t.Fatalf("expected ready=true")
	}
}

func TestChats_NotReadyClassification(t *testing.T) {
	t.Parallel()

	_, client := newFakeService(t, false, nil)

	_, err := client.Chats(context.Background())
	if err == nil {
		t.Fatalf("expected error when service is not ready")
	}
	if KindOf(err) != KindNotReady {
		t.Fatalf("expected not_ready classification, got %s", KindOf(err))
	}
}

func TestResolveChat_OrderedChain(t *testing.T) {
	t.Parallel()

	chats := []Chat{
		{ID: "111@g.us", Name: "222", IsGroup: true},
		{ID: "222@c.us", Name: "Family", IsGroup: false},
		{ID: "333@g.us", Name: "group-A", IsGroup: true},
	}
	_, client := newFakeService(t, true, chats)
	ctx := context.Background()

	t.Run("exact serialized id wins", func(t *testing.T) {
		chat, err := client.ResolveChat(ctx, "111@g.us")
		if err != nil {
			t.Fatalf("ResolveChat() error: %v", err)
		}
		if chat.ID != "111@g.us" {
			t.Fatalf("expected 111@g.us, got %s", chat.ID)
		}
	})

	t.Run("user part beats display name", func(t *testing.T) {
		// "222" is both the user part of 222@c.us and the name of the
		// first chat; the id chain must win.
		chat, err := client.ResolveChat(ctx, "222")
		if err != nil {
			t.Fatalf("ResolveChat() error: %v", err)
		}
		if chat.ID != "222@c.us" {
			t.Fatalf("expected user-part match 222@c.us, got %s", chat.ID)
		}
	})

	t.Run("display name as last resort", func(t *testing.T) {
		chat, err := client.ResolveChat(ctx, "group-A")
		if err != nil {
			t.Fatalf("ResolveChat() error: %v", err)
		}
		if chat.ID != "333@g.us" {
			t.Fatalf("expected name match 333@g.us, got %s", chat.ID)
		}
	})

	t.Run("no match is permanent", func(t *testing.T) {
		_, err := client.ResolveChat(ctx, "does-not-exist")
		if !errors.Is(err, ErrChatNotFound) {
			t.Fatalf("expected ErrChatNotFound, got %v", err)
		}
		if KindOf(err) != KindPermanent {
			t.Fatalf("expected permanent classification, got %s", KindOf(err))
		}
	})
}

func TestWhatsAppTextSender_SendsResolvedChat(t *testing.T) {
	t.Parallel()

	fake, client := newFakeService(t, true, []Chat{
		{ID: "333@g.us", Name: "group-A", IsGroup: true},
	})

	sender := NewWhatsAppTextSender(client)
	err := sender.Send(context.Background(), &model.Schedule{
		Kind:      model.KindWhatsAppText,
		Recipient: "group-A",
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	if got := fake.messages[0]["group_id"]; got != "333@g.us" {
		t.Fatalf("expected resolved chat id, got %q", got)
	}
	if got := fake.messages[0]["text"]; got != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", got)
	}
}

func TestWhatsAppVideoSender_SendsURLAndCaption(t *testing.T) {
	t.Parallel()

	fake, client := newFakeService(t, true, []Chat{
		{ID: "333@g.us", Name: "group-A", IsGroup: true},
	})

	sender := NewWhatsAppVideoSender(client)
	err := sender.Send(context.Background(), &model.Schedule{
		Kind:      model.KindWhatsAppVideo,
		Recipient: "333@g.us",
		MediaURL:  "https://example.com/v.mp4",
		Caption:   "watch this",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.videos) != 1 {
		t.Fatalf("expected 1 video, got %d", len(fake.videos))
	}
	if got := fake.videos[0]["video_url"]; got != "https://example.com/v.mp4" {
		t.Fatalf("unexpected video_url %q", got)
	}
	if got := fake.videos[0]["caption"]; got != "watch this" {
		t.Fatalf("unexpected caption %q", got)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want ErrorKind
	}{
		{http.StatusServiceUnavailable, KindNotReady},
		{http.StatusNotFound, KindPermanent},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
	}
	for _, c := range cases {
		err := classifyStatusCode(c.code, nil)
		if err == nil {
			t.Fatalf("code %d: expected error", c.code)
		}
		if KindOf(err) != c.want {
			t.Fatalf("code %d: expected %s, got %s", c.code, c.want, KindOf(err))
		}
	}

	if err := classifyStatusCode(http.StatusOK, nil); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}
}

func TestKindOf_UnclassifiedDefaultsToTransient(t *testing.T) {
	t.Parallel()

	if got := KindOf(errors.New("dial tcp: connection refused")); got != KindTransient {
		t.Fatalf("expected transient, got %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTransient {
		t.Fatalf("expected transient for deadline, got %s", got)
	}
}
