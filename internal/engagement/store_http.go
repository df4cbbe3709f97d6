package engagement

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPStore is the client-side Store: it speaks the server's record API
// so the tracker behaves identically whether it runs next to the
// database or on the far end of a share link.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStore creates an HTTPStore against baseURL (no trailing slash
// required). visitorToken is sent on every request; it may be empty for
// read-only use.
func NewHTTPStore(baseURL, visitorToken string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   visitorToken,
		client:  client,
	}
}

func (s *HTTPStore) likesURL(entityID uuid.UUID) string {
	return fmt.Sprintf("%s/api/pets/%s/likes", s.baseURL, entityID)
}

func (s *HTTPStore) newRequest(ctx context.Context, method, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(VisitorTokenHeader, token)
	}
	return req, nil
}

func (s *HTTPStore) FetchState(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.likesURL(entityID), visitorToken)
	if err != nil {
		return State{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return State{}, fmt.Errorf("fetch engagement state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return State{}, fmt.Errorf("fetch engagement state: %s", responseError(resp))
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return State{}, fmt.Errorf("decode engagement state: %w", err)
	}
	return state, nil
}

func (s *HTTPStore) AddRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	req, err := s.newRequest(ctx, http.MethodPut, s.likesURL(entityID), visitorToken)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("record like: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyLiked
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("record like: %s", responseError(resp))
	}
}

func (s *HTTPStore) RemoveRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	req, err := s.newRequest(ctx, http.MethodDelete, s.likesURL(entityID), visitorToken)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remove like: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remove like: %s", responseError(resp))
	}
	return nil
}

// SubscribeCounter consumes the server-sent counter feed. The returned
// channel is closed when the stream ends or ctx is cancelled.
func (s *HTTPStore) SubscribeCounter(ctx context.Context, entityID uuid.UUID) (<-chan int64, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.likesURL(entityID)+"/stream", s.token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any per-request timeout; rely on ctx instead.
	client := &http.Client{Transport: s.client.Transport}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open counter stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := responseError(resp)
		resp.Body.Close()
		return nil, fmt.Errorf("open counter stream: %s", msg)
	}

	updates := make(chan int64, 1)
	go func() {
		defer close(updates)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			payload, found := strings.CutPrefix(line, "data:")
			if !found {
				continue
			}
			count, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
			if err != nil {
				continue
			}
			select {
			case updates <- count:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// responseError extracts the error code/message from a JSON error body,
// falling back to the HTTP status.
func responseError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			if e.Message != "" {
				return fmt.Sprintf("%s: %s", e.Error, e.Message)
			}
			return e.Error
		}
	}
	return resp.Status
}
