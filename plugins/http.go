package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/icyseptember2237/scripthost"
	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP installs http.get and http.post. Without a callback a request
// blocks the script and returns the response object. With one it runs
// on its own goroutine and the callback receives the response on the
// owning thread. Responses carry httpCode, which is -1 when the request
// itself failed.
//
// Each context gets its own session, so closing one context cancels
// only the requests it started.
type HTTP struct {
	Client *http.Client

	log      *zap.Logger
	mu       sync.Mutex
	sessions map[*scripthost.Context]*httpSession
}

type httpSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTP{
		Client:   client,
		log:      scripthost.Logger().Named("http"),
		sessions: make(map[*scripthost.Context]*httpSession),
	}
}

func (p *HTTP) Setup(c *scripthost.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.sessions[c] = &httpSession{ctx: ctx, cancel: cancel}
	p.mu.Unlock()

	return namespace(c, "http", map[string]scripthost.HostFunc{
		"get": func(_ *scripthost.Value, args []any) (any, error) {
			target, ok := stringArg(args, 0)
			if !ok {
				return nil, argError("http.get", "url is required")
			}
			headers, cb, err := requestOptions(args[1:])
			if err != nil {
				return nil, err
			}
			return p.do(c, http.MethodGet, target, "", headers, cb)
		},
		"post": func(_ *scripthost.Value, args []any) (any, error) {
			target, ok := stringArg(args, 0)
			if !ok {
				return nil, argError("http.post", "url is required")
			}
			body, _ := stringArg(args, 1)
			headers, cb, err := requestOptions(args[min(2, len(args)):])
			if err != nil {
				return nil, err
			}
			return p.do(c, http.MethodPost, target, body, headers, cb)
		},
	}, nil)
}

// Close cancels the requests c started and waits for them to finish.
func (p *HTTP) Close(c *scripthost.Context) {
	p.mu.Lock()
	s, ok := p.sessions[c]
	delete(p.sessions, c)
	p.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (p *HTTP) session(c *scripthost.Context) (*httpSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[c]
	if !ok {
		return nil, fmt.Errorf("http: %w", context.Canceled)
	}
	return s, nil
}

// requestOptions reads the optional headers object and callback.
func requestOptions(args []any) (map[string]string, *scripthost.Value, error) {
	var headers map[string]string
	var cb *scripthost.Value
	for i := range args {
		v, ok := valueArg(args, i)
		if !ok {
			continue
		}
		if v.IsFunction() {
			cb = v
			break
		}
		m, err := v.ToMap()
		if err != nil {
			return nil, nil, err
		}
		headers = make(map[string]string, len(m))
		for k, h := range m {
			headers[k] = fmt.Sprint(h)
		}
	}
	return headers, cb, nil
}

func (p *HTTP) do(c *scripthost.Context, method, target, body string, headers map[string]string, cb *scripthost.Value) (any, error) {
	s, err := p.session(c)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return p.request(s.ctx, method, target, body, headers)
	}

	fn, err := cb.Dup()
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := p.request(s.ctx, method, target, body, headers)
		if err != nil {
			res = map[string]any{
				"httpCode": -1,
				"message":  err.Error(),
				"error":    fmt.Sprintf("%+v", err),
				"body":     nil,
			}
		}
		posted := c.Runtime().Dispatcher().PostAsync(func() {
			defer fn.Close()
			out, err := fn.Invoke(nil, res)
			if v, ok := out.(*scripthost.Value); ok {
				_ = v.Close()
			}
			if err != nil {
				p.log.Warn("http callback failed", zap.String("url", target), zap.Error(err))
			}
		})
		if !posted {
			_ = fn.Close()
		}
	}()
	return nil, nil
}

func (p *HTTP) request(ctx context.Context, method, target, body string, headers map[string]string) (map[string]any, error) {
	var rd io.Reader
	if method != http.MethodGet {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	for _, k := range sortedKeys(headers) {
		req.Header.Set(k, headers[k])
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	message := http.StatusText(resp.StatusCode)
	text := string(data)
	if resp.StatusCode >= http.StatusBadRequest {
		text = message
	}

	names := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	hdr := make(map[string]any, len(names))
	for _, k := range names {
		hdr[k] = strings.Join(resp.Header.Values(k), ";")
	}

	p.log.Debug("http request", zap.String("method", method), zap.String("url", target), zap.Int("status", resp.StatusCode))
	return map[string]any{
		"httpCode": resp.StatusCode,
		"message":  message,
		"headers":  hdr,
		"body":     text,
	}, nil
}
