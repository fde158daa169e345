package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// HTTPDocumentStore implements interfaces.DocumentStore against the
// server's /api/documents endpoints.
type HTTPDocumentStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDocumentStore targets the server at baseURL, e.g.
// http://localhost:8080. A nil httpClient gets a 10 second timeout.
func NewHTTPDocumentStore(baseURL string, httpClient *http.Client) *HTTPDocumentStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDocumentStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type documentEnvelope struct {
	Document *types.Document `json:"document"`
}

func (s *HTTPDocumentStore) documentURL(id string) string {
	return s.baseURL + "/api/documents/" + url.PathEscape(id)
}

func (s *HTTPDocumentStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.documentURL(id), nil)
	if err != nil {
		return nil, err
	}

	var env documentEnvelope
	if err := s.do(req, &env); err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	if env.Document == nil {
		return nil, fmt.Errorf("failed to get document %s: empty response", id)
	}
	return env.Document, nil
}

func (s *HTTPDocumentStore) PutDocumentContent(ctx context.Context, id, content string) error {
	body, err := json.Marshal(map[string]string{"code": content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.documentURL(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(req, nil); err != nil {
		return fmt.Errorf("failed to write back document %s: %w", id, err)
	}
	return nil
}

func (s *HTTPDocumentStore) do(req *http.Request, out interface{}) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return interfaces.ErrDocumentNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
