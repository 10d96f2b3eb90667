package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

// RestClient talks to the portal's request/response API. The sync
// engine uses it for the cold-start conversation fetch and for the
// login that yields the session credential; everything else on that
// API is outside the engine's scope.
type RestClient struct {
	baseURL    string
	httpClient *client.Client
	token      string
}

// RestOption is a function to configure the REST client
type RestOption func(*RestClient)

// WithHertzClient sets a custom Hertz client
func WithHertzClient(httpClient *client.Client) RestOption {
	return func(c *RestClient) {
		c.httpClient = httpClient
	}
}

// WithRestToken sets the authentication token
func WithRestToken(token string) RestOption {
	return func(c *RestClient) {
		c.token = token
	}
}

// NewRestClient creates a new REST client
func NewRestClient(baseURL string, opts ...RestOption) (*RestClient, error) {
	httpClient, err := client.NewClient(
		client.WithDialTimeout(10*time.Second),
		client.WithClientReadTimeout(30*time.Second),
		client.WithWriteTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	c := &RestClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SetToken sets the authentication token
func (c *RestClient) SetToken(token string) {
	c.token = token
}

// Login authenticates a user and returns the session credential.
// The token is stored for subsequent requests.
func (c *RestClient) Login(ctx context.Context, userId, password string, platformId int) (*LoginResponse, error) {
	req := &LoginRequest{
		UserId:     userId,
		Password:   password,
		PlatformId: platformId,
	}
	var result LoginResponse
	if err := c.post(ctx, "/auth/login", req, &result); err != nil {
		return nil, err
	}
	c.SetToken(result.Token)
	return &result, nil
}

// FetchConversations gets the conversation list for the current user,
// used to render before the live connection authenticates
func (c *RestClient) FetchConversations(ctx context.Context) ([]*ConversationInfo, error) {
	var result []*ConversationInfo
	if err := c.get(ctx, "/conversation/list", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// request makes an HTTP request and decodes the response
func (c *RestClient) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	reqURL := c.baseURL + path

	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(method)
	req.SetRequestURI(reqURL)
	req.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.SetBody(jsonBody)
	}

	err := c.httpClient.Do(ctx, req, resp)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	return decodeResponse(resp.Body(), result)
}

// get makes a GET request with query parameters
func (c *RestClient) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqURL += "?" + query.Encode()
	}

	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(reqURL)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	err := c.httpClient.Do(ctx, req, resp)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	return decodeResponse(resp.Body(), result)
}

// post makes a POST request
func (c *RestClient) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPost, path, body, result)
}

// decodeResponse unwraps the standard API envelope
func decodeResponse(body []byte, result interface{}) error {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if apiResp.Code != 0 {
		return errcode.New(apiResp.Code, apiResp.Msg)
	}

	if result != nil && apiResp.Data != nil {
		dataBytes, err := json.Marshal(apiResp.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal response data: %w", err)
		}
		if err := json.Unmarshal(dataBytes, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
