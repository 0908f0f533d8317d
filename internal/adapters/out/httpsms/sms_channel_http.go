package httpsms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

const ChannelName = "http"

type Config struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Sender string `mapstructure:"sender"`
}

// gatewayResponse 网关约定的返回体
type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// SMSChannel 通用 HTTP 短信网关，表单提交
type SMSChannel struct {
	httpClient *http.Client
	cfg        Config
}

var _ out.SMSChannel = (*SMSChannel)(nil)

func NewSMSChannel(cfg Config, timeout time.Duration) *SMSChannel {
	return &SMSChannel{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

func (c *SMSChannel) Name() string { return ChannelName }

func (c *SMSChannel) Send(ctx context.Context, phone, code, template string) (string, error) {
	data := url.Values{}
	data.Set("api_key", c.cfg.APIKey)
	data.Set("to", phone)
	data.Set("from", c.cfg.Sender)
	data.Set("template", template)
	data.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read gateway response: %w", err)
	}
	var gr gatewayResponse
	// 非 JSON 的返回体不影响按状态码判断
	_ = json.Unmarshal(body, &gr)

	if resp.StatusCode != http.StatusOK {
		if gr.Error != "" {
			return "", fmt.Errorf("SMS gateway returned %d: %s", resp.StatusCode, gr.Error)
		}
		return "", fmt.Errorf("SMS gateway returned non-OK status: %d", resp.StatusCode)
	}
	return gr.MessageID, nil
}
