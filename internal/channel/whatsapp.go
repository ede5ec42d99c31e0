package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

// ErrChatNotFound means the recipient matched no chat through the whole
// resolution chain.
var ErrChatNotFound = errors.New("chat not found")

// WhatsAppClient talks to the external WhatsApp automation service over
// HTTP. Session lifecycle (QR scan, authentication) belongs to that
// service; this client only observes readiness via Status.
type WhatsAppClient struct {
	baseURL string
	client  *http.Client
}

func NewWhatsAppClient(baseURL string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// Per-send deadlines come from the caller's context; this is
			// only a safety net.
			Timeout: 2 * time.Minute,
		},
	}
}

type Chat struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsGroup      bool   `json:"isGroup"`
	Participants int    `json:"participants"`
}

type statusResponse struct {
	Status        string `json:"status"`
	WhatsAppReady bool   `json:"whatsapp_ready"`
}

type chatsResponse struct {
	Chats []Chat `json:"chats"`
}

type qrResponse struct {
	QR      string `json:"qr"`
	Message string `json:"message"`
}

// Status reports whether the automation service has a usable session.
func (c *WhatsAppClient) Status(ctx context.Context) (bool, error) {
	var sr statusResponse
	if err := c.getJSON(ctx, "/status", &sr); err != nil {
		return false, err
	}
	return sr.WhatsAppReady, nil
}

func (c *WhatsAppClient) Chats(ctx context.Context) ([]Chat, error) {
	var cr chatsResponse
	if err := c.getJSON(ctx, "/chats", &cr); err != nil {
		return nil, err
	}
	return cr.Chats, nil
}

// QR returns the authentication artifact surfaced during session setup.
// Empty when the session is already authenticated.
func (c *WhatsAppClient) QR(ctx context.Context) (string, error) {
	var qr qrResponse
	if err := c.getJSON(ctx, "/qr", &qr); err != nil {
		return "", err
	}
	return qr.QR, nil
}

// ResolveChat maps a recipient reference to a chat, trying in order:
// exact serialized id, then the user/number part of the id, then the
// display name. First hit wins; no fuzzy matching beyond this chain.
func (c *WhatsAppClient) ResolveChat(ctx context.Context, recipient string) (Chat, error) {
	chats, err := c.Chats(ctx)
	if err != nil {
		return Chat{}, err
	}

	for _, chat := range chats {
		if chat.ID == recipient {
			return chat, nil
		}
	}
	for _, chat := range chats {
		if user, _, ok := strings.Cut(chat.ID, "@"); ok && user == recipient {
			return chat, nil
		}
	}
	for _, chat := range chats {
		if chat.Name == recipient {
			return chat, nil
		}
	}

	return Chat{}, Permanent(fmt.Errorf("%w: %q", ErrChatNotFound, recipient))
}

func (c *WhatsAppClient) SendMessage(ctx context.Context, chatID, text string) error {
	return c.postJSON(ctx, "/send-message", map[string]string{
		"group_id": chatID,
		"text":     text,
	})
}

func (c *WhatsAppClient) SendVideo(ctx context.Context, chatID, videoURL, caption string) error {
	return c.postJSON(ctx, "/send-video", map[string]string{
		"group_id":  chatID,
		"video_url": videoURL,
		"caption":   caption,
	})
}

func (c *WhatsAppClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if err := classifyStatusCode(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return Transient(fmt.Errorf("failed to decode json: %w body=%q", err, string(body)))
	}
	return nil
}

func (c *WhatsAppClient) postJSON(ctx context.Context, path string, payload any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return classifyStatusCode(resp.StatusCode, body)
}

func classifyStatusCode(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusServiceUnavailable:
		return NotReady(fmt.Errorf("automation service not ready: %s", strings.TrimSpace(string(body))))
	case code == http.StatusNotFound:
		return Permanent(fmt.Errorf("%w: %s", ErrChatNotFound, strings.TrimSpace(string(body))))
	default:
		return Transient(fmt.Errorf("unexpected status code: %d body=%q", code, string(body)))
	}
}

// WhatsAppTextSender delivers whatsapp_text schedules.
type WhatsAppTextSender struct {
	client *WhatsAppClient
}

func NewWhatsAppTextSender(client *WhatsAppClient) *WhatsAppTextSender {
	return &WhatsAppTextSender{client: client}
}

func (s *WhatsAppTextSender) Send(ctx context.Context, sc *model.Schedule) error {
	chat, err := s.client.ResolveChat(ctx, sc.Recipient)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, chat.ID, sc.Text)
}

// WhatsAppVideoSender delivers whatsapp_video schedules.
type WhatsAppVideoSender struct {
	client *WhatsAppClient
}

func NewWhatsAppVideoSender(client *WhatsAppClient) *WhatsAppVideoSender {
	return &WhatsAppVideoSender{client: client}
}

func (s *WhatsAppVideoSender) Send(ctx context.Context, sc *model.Schedule) error {
	chat, err := s.client.ResolveChat(ctx, sc.Recipient)
	if err != nil {
		return err
	}
	return s.client.SendVideo(ctx, chat.ID, sc.MediaURL, sc.Caption)
}
