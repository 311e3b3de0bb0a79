package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// client wraps the daemon's HTTP API for CLI usage.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(addr, token string) *client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &client{
		base:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs one request and returns the response body. Non-2xx responses
// become errors carrying the server's message, including the leader hint a
// follower returns on writes.
func (c *client) do(method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *client) get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, "", nil)
}

func (c *client) postJSON(path string, body []byte) ([]byte, error) {
	return c.do(http.MethodPost, path, "application/json", bytes.NewReader(body))
}

func (c *client) putJSON(path string, body []byte) ([]byte, error) {
	return c.do(http.MethodPut, path, "application/json", bytes.NewReader(body))
}

func (c *client) delete(path string) ([]byte, error) {
	return c.do(http.MethodDelete, path, "", nil)
}

// upload sends filePath as the multipart "file" field, the shape the
// cluster-sync restore endpoint expects.
func (c *client) upload(path, filePath string) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.do(http.MethodPost, path, mw.FormDataContentType(), &buf)
}

// loadBody reads a request body from a file, converting YAML to JSON when
// the extension says so, so operators can keep space/version configs in
// either form. "-" reads stdin (assumed JSON).
func loadBody(path string) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
		return json.Marshal(normalizeYAML(v))
	}
	return data, nil
}

// normalizeYAML rewrites yaml.v3's map[string]interface{} values so the
// result marshals cleanly as JSON (yaml.v3 already decodes mapping keys as
// strings, but nested values still need the walk).
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return t
	}
}

// printJSON pretty-prints a JSON response body, passing through anything
// that is not JSON untouched.
func printJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	fmt.Println(string(out))
}
