package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://192.168.0.1:443"

func newMockedClient(t *testing.T) (*HTTPClient, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := NewHTTPClient(Config{
		Host:     "192.168.0.1",
		Username: "root",
		Password: "calvin",
	}, WithHTTPClient(&http.Client{Transport: mt}))
	require.NoError(t, err)
	return c, mt
}

func TestNewHTTPClient_RequiresHost(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	require.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{name: "ipv4", host: "10.0.0.1", port: 443, want: "https://10.0.0.1:443"},
		{name: "hostname", host: "idrac.example.com", port: 8443, want: "https://idrac.example.com:8443"},
		{name: "ipv6", host: "fe80::1", port: 443, want: "https://[fe80::1]:443"},
		{name: "bracketed ipv6", host: "[fe80::1]", port: 443, want: "https://[fe80::1]:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseURL(tt.host, tt.port))
		})
	}
}

func TestInvoke_SuccessWithLocation(t *testing.T) {
	c, mt := newMockedClient(t)

	var gotUser, gotPass, gotCT string
	var gotBody []byte
	mt.RegisterResponder(http.MethodPost, testBase+"/redfish/v1/Actions/Run",
		func(req *http.Request) (*http.Response, error) {
			gotUser, gotPass, _ = req.BasicAuth()
			gotCT = req.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(req.Body)
			resp := httpmock.NewStringResponse(http.StatusAccepted, "")
			resp.Header.Set("Location", "/redfish/v1/Managers/iDRAC.Embedded.1/Jobs/JID_1")
			return resp, nil
		})

	resp, err := c.Invoke(context.Background(), http.MethodPost, "/redfish/v1/Actions/Run", map[string]any{"RunMode": "Express"})
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.Equal(t, "/redfish/v1/Managers/iDRAC.Embedded.1/Jobs/JID_1", resp.Location())
	assert.Equal(t, "root", gotUser)
	assert.Equal(t, "calvin", gotPass)
	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"RunMode":"Express"}`, string(gotBody))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestInvoke_JSONBody(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/redfish/v1/Managers",
		httpmock.NewStringResponder(http.StatusOK, `{"Members":[{"@odata.id":"/redfish/v1/Managers/iDRAC.Embedded.1"}]}`))

	resp, err := c.Invoke(context.Background(), http.MethodGet, "/redfish/v1/Managers", nil)
	require.NoError(t, err)
	body, err := resp.JSON()
	require.NoError(t, err)
	members, ok := body["Members"].([]any)
	require.True(t, ok)
	assert.Len(t, members, 1)
}

func TestInvoke_HTTPError(t *testing.T) {
	c, mt := newMockedClient(t)
	envelope := `{"error":{"@Message.ExtendedInfo":[{"MessageId":"SYS099","Message":"No file found."}]}}`
	mt.RegisterResponder(http.MethodPost, testBase+"/export",
		httpmock.NewStringResponder(http.StatusBadRequest, envelope))

	resp, err := c.Invoke(context.Background(), http.MethodPost, "/export", map[string]any{})
	require.Error(t, err)
	require.NotNil(t, resp)

	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
	assert.Equal(t, "HTTP Error 400: Bad Request", he.Error())
	assert.JSONEq(t, envelope, string(he.Body))
	assert.False(t, IsUnreachable(err))
	assert.False(t, IsTransient(err))
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestInvoke_ConnectionError(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/redfish/v1",
		httpmock.NewErrorResponder(errors.New("dial tcp 192.168.0.1:443: connect: connection refused")))

	_, err := c.Invoke(context.Background(), http.MethodGet, "/redfish/v1", nil)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.True(t, IsTransient(err))

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.MethodGet, ce.Method)
}

func TestInvoke_AbsoluteURIOnController(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodGet, "https://192.168.0.1/file.txt",
		httpmock.NewStringResponder(http.StatusOK, "diagnostics"))

	resp, err := c.Invoke(context.Background(), http.MethodGet, "https://192.168.0.1/file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "diagnostics", string(resp.Body))
}

func TestInvoke_AbsoluteURIElsewhereIsRejected(t *testing.T) {
	for _, uri := range []string{
		"https://other:443/file.txt",
		"http://192.168.0.1/file.txt",
		"https://192.168.0.1:8443/file.txt",
	} {
		t.Run(uri, func(t *testing.T) {
			c, mt := newMockedClient(t)

			_, err := c.Invoke(context.Background(), http.MethodGet, uri, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrForeignURI)
			assert.False(t, IsTransient(err))
			assert.Empty(t, mt.GetCallCountInfo())
		})
	}
}

func TestInvoke_CancelledContext(t *testing.T) {
	c, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/redfish/v1",
		httpmock.NewStringResponder(http.StatusOK, `{}`).Delay(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Invoke(ctx, http.MethodGet, "/redfish/v1", nil)
	require.Error(t, err)
	assert.False(t, IsUnreachable(err))
}

func TestHTTPError_Transient(t *testing.T) {
	assert.True(t, (&HTTPError{StatusCode: 503}).Transient())
	assert.True(t, (&HTTPError{StatusCode: 429}).Transient())
	assert.False(t, (&HTTPError{StatusCode: 404}).Transient())
}

func TestResponse_EmptyBody(t *testing.T) {
	r := &Response{StatusCode: 204}
	body, err := r.JSON()
	require.NoError(t, err)
	assert.Empty(t, body)

	var v map[string]any
	assert.Error(t, r.Decode(&v))
	assert.Empty(t, r.Location())
}
