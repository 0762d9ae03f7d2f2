package streamcore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Protocol header names, matching the wire shape of the durable-streams
// HTTP protocol this core's stream-core sits on top of.
const (
	headerContentType  = "Content-Type"
	headerStreamOffset = "Stream-Next-Offset"
	headerProducerID   = "Producer-Id"
	headerProducerEpoch = "Producer-Epoch"
	headerProducerSeq  = "Producer-Seq"
)

// HTTPClient is a Client implementation over plain net/http. BaseURL is
// joined with the key's projectId/streamId path to form the request URL,
// e.g. "https://stream-core.internal" + "/acme/orders" .
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient returns an HTTPClient using http.DefaultClient if hc is nil.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

func (c *HTTPClient) url(key Key) string {
	return fmt.Sprintf("%s/%s", c.BaseURL, key.String())
}

func (c *HTTPClient) Head(ctx context.Context, key Key) (HeadResult, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodHead, c.url(key), nil)
	if err != nil {
		return HeadResult{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return HeadResult{}, err
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return HeadResult{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return HeadResult{}, fmt.Errorf("stream-core head: unexpected status %d", resp.StatusCode)
	}
	return HeadResult{Exists: true, ContentType: resp.Header.Get(headerContentType)}, nil
}

func (c *HTTPClient) Put(ctx context.Context, key Key, contentType string, body []byte) (PutResult, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(key), bodyReader)
	if err != nil {
		return PutResult{}, err
	}
	if contentType != "" {
		req.Header.Set(headerContentType, contentType)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return PutResult{}, err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return PutResult{Outcome: PutCreated, HTTPStatus: resp.StatusCode}, nil
	case http.StatusOK:
		return PutResult{Outcome: PutTouched, HTTPStatus: resp.StatusCode}, nil
	case http.StatusConflict:
		return PutResult{Outcome: PutConflict, HTTPStatus: resp.StatusCode}, nil
	default:
		return PutResult{Outcome: PutFailed, HTTPStatus: resp.StatusCode}, nil
	}
}

func (c *HTTPClient) Post(ctx context.Context, key Key, payload []byte, contentType string, headers ProducerHeaders) (PostResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(key), bytes.NewReader(payload))
	if err != nil {
		return PostResult{}, err
	}
	if contentType != "" {
		req.Header.Set(headerContentType, contentType)
	}
	if headers.ProducerID != "" {
		req.Header.Set(headerProducerID, headers.ProducerID)
		req.Header.Set(headerProducerEpoch, headers.ProducerEpoch)
		req.Header.Set(headerProducerSeq, headers.ProducerSeq)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return PostResult{}, err
	}
	defer drain(resp.Body)

	var res = PostResult{HTTPStatus: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		res.Stale = true
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.OK = true
		res.NextOffset = resp.Header.Get(headerStreamOffset)
	}
	return res, nil
}

func (c *HTTPClient) Delete(ctx context.Context, key Key) (DeleteResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(key), nil)
	if err != nil {
		return DeleteResult{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return DeleteResult{}, err
	}
	defer drain(resp.Body)

	// Delete is idempotent: 404 counts as success (spec §4.1).
	var ok = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound
	return DeleteResult{OK: ok, HTTPStatus: resp.StatusCode}, nil
}

func drain(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	_ = r.Close()
}
