package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/livp123/netxpf/internal/api"
	errs "github.com/livp123/netxpf/pkg/errors"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

// do sends in as the JSON body of method path and decodes the reply into
// out. Error replies come back as the matching error kind so callers can
// test them with errors.Is.
// do 发送请求并解码响应，错误响应会还原为对应的错误类型。
func (c *client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base + api.Prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &er); err != nil || er.Error == "" {
		return fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	kind := errs.FromKind(er.Error)
	if kind == nil {
		return fmt.Errorf("%s: %s", er.Error, er.Message)
	}
	return &APIError{Status: resp.StatusCode, Kind: kind, Message: er.Message}
}

// APIError is a failed call. It unwraps to the error kind reported by the
// daemon.
// APIError 表示失败的调用，可解包为守护进程返回的错误类型。
type APIError struct {
	Status  int
	Kind    error
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Kind
}
