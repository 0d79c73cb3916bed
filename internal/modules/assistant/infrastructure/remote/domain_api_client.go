package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/domain/collaborator"
)

// Client 仪表盘业务接口客户端，同时实现客户目录、日程、档案检索和远程通知
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var (
	_ collaborator.CustomerDirectory   = (*Client)(nil)
	_ collaborator.AppointmentCalendar = (*Client)(nil)
	_ collaborator.ArchiveSearch       = (*Client)(nil)
	_ collaborator.RemoteNotifier      = (*Client)(nil)
)

// NewClient timeout<=0 时使用 10 秒
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope 业务接口统一返回 {code, message, data}；也兼容直接返回 data
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// StatusError 非 2xx 响应
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("domain api status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return collaborator.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && (env.Code != nil || len(env.Data) > 0) {
		if env.Code != nil && *env.Code != 0 && *env.Code != http.StatusOK {
			return fmt.Errorf("domain api code %d: %s", *env.Code, env.Message)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) SearchCustomers(ctx context.Context, userID, query string) ([]collaborator.Customer, error) {
	var out []collaborator.Customer
	err := c.do(ctx, http.MethodGet, "/api/customers", url.Values{"userId": {userID}, "q": {query}}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	return out, nil
}

func (c *Client) GetCustomer(ctx context.Context, userID, customerID string) (*collaborator.Customer, error) {
	var out collaborator.Customer
	err := c.do(ctx, http.MethodGet, "/api/customers/"+url.PathEscape(customerID), url.Values{"userId": {userID}}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &out, nil
}

func (c *Client) CreateAppointment(ctx context.Context, userID string, appt collaborator.Appointment) (*collaborator.Appointment, error) {
	appt.UserID = userID
	var out collaborator.Appointment
	if err := c.do(ctx, http.MethodPost, "/api/appointments", nil, appt, &out); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create appointment: empty id in response")
	}
	return &out, nil
}

func (c *Client) SearchAppointments(ctx context.Context, userID, query string) ([]collaborator.Appointment, error) {
	var out []collaborator.Appointment
	err := c.do(ctx, http.MethodGet, "/api/appointments", url.Values{"userId": {userID}, "q": {query}}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", err)
	}
	return out, nil
}

func (c *Client) Upcoming(ctx context.Context, within time.Duration) ([]collaborator.Appointment, error) {
	var out []collaborator.Appointment
	q := url.Values{"withinMinutes": {strconv.Itoa(int(within / time.Minute))}}
	if err := c.do(ctx, http.MethodGet, "/api/appointments/upcoming", q, nil, &out); err != nil {
		return nil, fmt.Errorf("upcoming appointments: %w", err)
	}
	return out, nil
}

func (c *Client) SearchArchive(ctx context.Context, userID, query string) ([]collaborator.ArchiveHit, error) {
	var out []collaborator.ArchiveHit
	err := c.do(ctx, http.MethodGet, "/api/archive/search", url.Values{"userId": {userID}, "q": {query}}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	return out, nil
}

// CreateRemote POST /api/notifications/create，返回服务端分配的 id（可能为空）
func (c *Client) CreateRemote(ctx context.Context, req collaborator.RemoteNotification) (string, error) {
	var out struct {
		ID  string `json:"id"`
		OID string `json:"_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/create", nil, req, &out); err != nil {
		return "", fmt.Errorf("create remote notification: %w", err)
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return out.OID, nil
}
