package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/chat"
)

// HTTPStore talks to a remote conversation store over the JSON contract:
// GET /messages?chatId, PUT /messages?chatId, POST /fork?chatId.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type HTTPStoreOption func(*HTTPStore)

func WithHTTPClient(client *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.client = client
	}
}

func WithLogger(logger zerolog.Logger) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.logger = logger
	}
}

func NewHTTPStore(baseURL string, options ...HTTPStoreOption) *HTTPStore {
	ret := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

var _ Store = (*HTTPStore)(nil)

func (s *HTTPStore) GetMessages(ctx context.Context, chatID string) (*MessagesPayload, error) {
	var payload MessagesPayload
	if err := s.do(ctx, http.MethodGet, "/messages", chatID, nil, &payload); err != nil {
		return nil, err
	}
	if payload.VariantsByUserMessageID == nil {
		payload.VariantsByUserMessageID = chat.VariantSet{}
	}
	return &payload, nil
}

func (s *HTTPStore) PutMessages(ctx context.Context, chatID string, req *PutMessagesRequest) error {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := s.do(ctx, http.MethodPut, "/messages", chatID, req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errors.New("store rejected messages write")
	}
	return nil
}

func (s *HTTPStore) Fork(ctx context.Context, chatID string, req *ForkRequest) (*chat.Chat, error) {
	var resp struct {
		Chat *chat.Chat `json:"chat"`
	}
	if err := s.do(ctx, http.MethodPost, "/fork", chatID, req, &resp); err != nil {
		return nil, err
	}
	if resp.Chat == nil {
		return nil, errors.New("fork response missing chat")
	}
	return resp.Chat, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path, chatID string, body, out interface{}) error {
	u := s.baseURL + path + "?chatId=" + url.QueryEscape(chatID)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	s.logger.Trace().
		Str("method", method).
		Str("path", path).
		Str("chat_id", chatID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("store request")

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return errors.Wrapf(ErrNotAccessible, "chat %s", chatID)
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "chat %s", chatID)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode store response")
	}
	return nil
}
