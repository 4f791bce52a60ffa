//go:build integration && linux

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClient struct {
	baseURL string
	client  *http.Client
}

func newTestClient(baseURL string) *testClient {
	return &testClient{baseURL: baseURL, client: &http.Client{}}
}

func (c *testClient) doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (c *testClient) createSession(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	resp := c.doRequest(t, "POST", "/api/sessions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "failed to create session")
	return decodeResponse(t, resp)
}

func (c *testClient) getSession(t *testing.T, key string) map[string]any {
	t.Helper()
	resp := c.doRequest(t, "GET", "/api/sessions/"+key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeResponse(t, resp)
}

func (c *testClient) uploadFile(t *testing.T, key, dest, content string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(dest, dest)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", fmt.Sprintf("%s/api/sessions/%s/files", c.baseURL, key), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (c *testClient) addTemplate(t *testing.T, key string, tpl map[string]any) {
	t.Helper()
	resp := c.doRequest(t, "POST", fmt.Sprintf("/api/sessions/%s/templates", key), tpl)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (c *testClient) finalize(t *testing.T, key string) {
	t.Helper()
	resp := c.doRequest(t, "POST", "/api/sessions/"+key, map[string]any{"finalize": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func (c *testClient) fetch(t *testing.T, key, what string) *http.Response {
	t.Helper()
	return c.doRequest(t, "GET", fmt.Sprintf("/api/sessions/%s/%s", key, what), nil)
}

func (c *testClient) fetchText(t *testing.T, key, what string) string {
	t.Helper()
	resp := c.fetch(t, key, what)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}
