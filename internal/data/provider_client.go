package data

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	providerInvokePath = "/v1/invoke"
	providerStreamPath = "/v1/stream"
	// maxStreamLine 单行流式数据上限
	maxStreamLine = 1 << 20
)

// streamLine 流式响应的一行（NDJSON）。最后一行携带 usage
type streamLine struct {
	Chunk json.RawMessage `json:"chunk,omitempty"`
	Usage *biz.Usage      `json:"usage,omitempty"`
	Error string          `json:"error,omitempty"`
}

// providerClient 上游计量服务 HTTP 客户端
type providerClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *log.Helper
}

// NewProviderClient 创建上游计量服务客户端（返回 biz.MeteredInvoker 接口）
func NewProviderClient(c *conf.Bootstrap, logger log.Logger) (biz.MeteredInvoker, func(), error) {
	if c.Provider == nil || c.Provider.Endpoint == "" {
		return nil, nil, fmt.Errorf("provider config is nil")
	}
	endpoint := c.Provider.Endpoint
	baseURL := endpoint
	if !strings.Contains(endpoint, "://") {
		baseURL = "http://" + endpoint
	}
	timeout := c.Provider.Timeout.AsDuration()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	p := &providerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  c.Provider.ApiKey,
		log:     log.NewHelper(logger),
	}
	client, err := http.NewClient(
		context.Background(),
		http.WithEndpoint(endpoint),
		http.WithTimeout(timeout),
		http.WithMiddleware(
			recovery.Recovery(),
			p.authMiddleware(),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	p.client = client
	cleanup := func() {
		if err := client.Close(); err != nil {
			p.log.Errorf("failed to close provider client: %v", err)
		}
	}
	return p, cleanup, nil
}

// authMiddleware 为上游请求附加鉴权头
func (p *providerClient) authMiddleware() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if tr, ok := transport.FromClientContext(ctx); ok && p.apiKey != "" {
				tr.RequestHeader().Set("Authorization", "Bearer "+p.apiKey)
			}
			return handler(ctx, req)
		}
	}
}

// Invoke 非流式调用
func (p *providerClient) Invoke(ctx context.Context, req *biz.InvokeRequest) (*biz.InvokeResult, error) {
	var reply biz.InvokeResult
	if err := p.client.Invoke(ctx, nethttp.MethodPost, providerInvokePath, req, &reply); err != nil {
		p.log.Errorf("provider invoke failed: operation_type=%s, model_id=%s, error=%v", req.OperationType, req.ModelID, err)
		return nil, err
	}
	return &reply, nil
}

// Stream 流式调用，逐行回调直至收到 usage
func (p *providerClient) Stream(ctx context.Context, req *biz.InvokeRequest, onChunk func(chunk []byte) error) (*biz.Usage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, p.baseURL+providerStreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.log.Errorf("provider stream failed: operation_type=%s, model_id=%s, error=%v", req.OperationType, req.ModelID, err)
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var l streamLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("invalid stream line: %w", err)
		}
		if l.Error != "" {
			return nil, fmt.Errorf("provider stream error: %s", l.Error)
		}
		if len(l.Chunk) > 0 {
			if err := onChunk(l.Chunk); err != nil {
				return nil, err
			}
		}
		if l.Usage != nil {
			return l.Usage, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("provider stream ended without usage")
}
