package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

// ErrNotAuthenticated is returned when Odoo refuses the configured credentials
var ErrNotAuthenticated = errors.New("odoo authentication refused")

// Client represents an Odoo XML-RPC client.
// The xmlrpc transport has no context support, so calls check ctx before
// they start and rely on the transport's response timeout afterwards.
type Client struct {
	URL        string
	Database   string
	Username   string
	Password   string
	CommonURL  string
	ObjectURL  string
	HttpClient *http.Client

	mu  sync.Mutex
	uid int64
}

// NewClient creates a new Odoo client
func NewClient(url, db, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URL:        url,
		Database:   db,
		Username:   username,
		Password:   password,
		CommonURL:  fmt.Sprintf("%s/xmlrpc/2/common", url),
		ObjectURL:  fmt.Sprintf("%s/xmlrpc/2/object", url),
		HttpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

func (c *Client) transport() http.RoundTripper {
	if c.HttpClient != nil && c.HttpClient.Transport != nil {
		return c.HttpClient.Transport
	}
	return nil
}

// Authenticate authenticates with Odoo and returns the user ID
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	client, err := xmlrpc.NewClient(c.CommonURL, c.transport())
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{c.Database, c.Username, c.Password, make([]interface{}, 0)}
	var uid interface{}
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}
	// Odoo answers false instead of a uid for bad credentials
	id, ok := toInt64(uid)
	if !ok || id == 0 {
		return 0, ErrNotAuthenticated
	}

	c.mu.Lock()
	c.uid = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) session(ctx context.Context) (int64, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}
	return c.Authenticate(ctx)
}

// execute runs execute_kw on the object endpoint
func (c *Client) execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	uid, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := xmlrpc.NewClient(c.ObjectURL, c.transport())
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	params := []interface{}{c.Database, uid, c.Password, model, method, args}
	if kwargs != nil {
		params = append(params, kwargs)
	}
	if err := client.Call("execute_kw", params, reply); err != nil {
		return fmt.Errorf("failed to execute %s on %s: %w", method, model, err)
	}
	return nil
}

// SearchRead performs a generic search_read operation
// model: Odoo model name (e.g., "stock.move.line")
// domain: search criteria
// fields: fields to fetch
// result: pointer to slice of structs with json tags
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error {
	var raw []map[string]interface{}
	kwargs := map[string]interface{}{
		"fields": fields,
		"limit":  limit,
		"offset": offset,
	}
	if err := c.execute(ctx, model, "search_read", []interface{}{domain}, kwargs, &raw); err != nil {
		return err
	}
	return convert(raw, result)
}

// Read reads records by IDs
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string, result interface{}) error {
	if len(ids) == 0 {
		return convert([]map[string]interface{}{}, result)
	}
	var raw []map[string]interface{}
	kwargs := map[string]interface{}{"fields": fields}
	if err := c.execute(ctx, model, "read", []interface{}{ids}, kwargs, &raw); err != nil {
		return err
	}
	return convert(raw, result)
}

// Write updates existing record(s); Odoo answers true on success
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}) (bool, error) {
	var success bool
	if err := c.execute(ctx, model, "write", []interface{}{ids, values}, nil, &success); err != nil {
		return false, err
	}
	return success, nil
}

// convert maps raw XML-RPC structs onto json-tagged records
func convert(raw []map[string]interface{}, result interface{}) error {
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw result: %w", err)
	}
	if err := json.Unmarshal(jsonData, result); err != nil {
		return fmt.Errorf("failed to unmarshal into target: %w", err)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
