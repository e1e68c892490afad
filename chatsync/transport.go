package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/watchtrix/watchtrix/protocol"
)

// ErrUnauthorized signals an expired or invalid credential. It is
// terminal for the session: the sync loop stops and the caller must
// re-authenticate.
var ErrUnauthorized = errors.New("chatsync: unauthorized")

// Transport is the protocol collaborator the sync controller consumes.
type Transport interface {
	// Sync long-polls for the next increment of the event stream. since
	// is empty on initial sync.
	Sync(ctx context.Context, since string, timeout time.Duration) (*protocol.SyncResponse, error)

	// LoadOlderEvents fetches one page of history older than from.
	LoadOlderEvents(ctx context.Context, roomID, from string, limit int) (*protocol.MessagesResponse, error)

	// RoomName fetches the room's current name state, empty if unset.
	RoomName(ctx context.Context, roomID string) (string, error)

	// Members fetches the room's full membership as state events.
	Members(ctx context.Context, roomID string) ([]protocol.RawEvent, error)

	// SendMessage sends a message with a session-unique transaction id
	// and returns the confirmed event id.
	SendMessage(ctx context.Context, roomID, txnID string, content any) (string, error)

	// SendReaction sends an annotation event, deduplicated by txnID.
	SendReaction(ctx context.Context, roomID, txnID string, content any) (string, error)
}

// HTTPTransport talks to a homeserver over the client-server HTTP API.
type HTTPTransport struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the given homeserver.
func NewHTTPTransport(baseURL, accessToken string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		// The long-poll timeout is bounded server-side; leave headroom here.
		HTTP: &http.Client{Timeout: 120 * time.Second},
	}
}

// Sync implements Transport.
func (t *HTTPTransport) Sync(ctx context.Context, since string, timeout time.Duration) (*protocol.SyncResponse, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
		q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	var resp protocol.SyncResponse
	if err := t.get(ctx, "/_matrix/client/v3/sync", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoadOlderEvents implements Transport.
func (t *HTTPTransport) LoadOlderEvents(ctx context.Context, roomID, from string, limit int) (*protocol.MessagesResponse, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("dir", "b")
	q.Set("limit", strconv.Itoa(limit))
	var resp protocol.MessagesResponse
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID))
	if err := t.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomName implements Transport. A missing name state returns "".
func (t *HTTPTransport) RoomName(ctx context.Context, roomID string) (string, error) {
	var content protocol.NameContent
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/m.room.name", url.PathEscape(roomID))
	err := t.get(ctx, path, nil, &content)
	if err != nil {
		var httpErr *ServerError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return content.Name, nil
}

// Members implements Transport.
func (t *HTTPTransport) Members(ctx context.Context, roomID string) ([]protocol.RawEvent, error) {
	var resp struct {
		Chunk []protocol.RawEvent `json:"chunk"`
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/members", url.PathEscape(roomID))
	if err := t.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chunk, nil
}

// SendMessage implements Transport.
func (t *HTTPTransport) SendMessage(ctx context.Context, roomID, txnID string, content any) (string, error) {
	return t.send(ctx, roomID, protocol.TypeMessage, txnID, content)
}

// SendReaction implements Transport.
func (t *HTTPTransport) SendReaction(ctx context.Context, roomID, txnID string, content any) (string, error) {
	return t.send(ctx, roomID, protocol.TypeReaction, txnID, content)
}

func (t *HTTPTransport) send(ctx context.Context, roomID, eventType, txnID string, content any) (string, error) {
	var resp struct {
		EventID string `json:"event_id"`
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID), eventType, url.PathEscape(txnID))
	if err := t.request(ctx, http.MethodPut, path, nil, content, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// Login performs a password login and stores the returned token on the
// transport for subsequent requests.
func (t *HTTPTransport) Login(ctx context.Context, userID, password string) (*protocol.LoginResponse, error) {
	body := map[string]any{
		"type": "m.login.password",
		"identifier": map[string]any{
			"type": "m.id.user",
			"user": userID,
		},
		"password": password,
	}
	var resp protocol.LoginResponse
	if err := t.request(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, body, &resp); err != nil {
		return nil, err
	}
	t.AccessToken = resp.AccessToken
	return &resp, nil
}

// Logout invalidates the current access token.
func (t *HTTPTransport) Logout(ctx context.Context) error {
	err := t.request(ctx, http.MethodPost, "/_matrix/client/v3/logout", nil, struct{}{}, &struct{}{})
	t.AccessToken = ""
	return err
}

// ServerError is a non-2xx response from the homeserver.
type ServerError struct {
	StatusCode int
	ErrCode    string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.ErrCode, e.Message)
}

func (t *HTTPTransport) get(ctx context.Context, path string, query url.Values, out any) error {
	return t.request(ctx, http.MethodGet, path, query, nil, out)
}

func (t *HTTPTransport) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := t.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.AccessToken)
	}

	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var errResp protocol.ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		if resp.StatusCode == http.StatusUnauthorized || errResp.ErrCode == "M_UNKNOWN_TOKEN" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, errResp.Error)
		}
		return &ServerError{StatusCode: resp.StatusCode, ErrCode: errResp.ErrCode, Message: errResp.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
