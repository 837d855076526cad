package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Doer is the *http.Client interface
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiateResponse struct {
	URL                 string               `json:"url,omitempty"`
	AccessToken         string               `json:"accessToken,omitempty"`
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	ConnectionID        string               `json:"connectionId"`
	NegotiateVersion    int                  `json:"negotiateVersion,omitempty"`
	AvailableTransports []availableTransport `json:"availableTransports"`
}

// negotiateResult is what the connection manager needs to open the websocket.
type negotiateResult struct {
	wsURL        string
	connectionID string
	bearerToken  string
}

var schemeToWs = map[string]string{"http": "ws", "https": "wss"}

// negotiate runs the pre-handshake HTTP POST for http(s) addresses.
// The caller skips it for ws(s) addresses.
func negotiate(ctx context.Context, client Doer, address string, headers http.Header) (negotiateResult, error) {
	reqURL, err := url.Parse(address)
	if err != nil {
		return negotiateResult{}, &NegotiationError{Message: fmt.Sprintf("invalid address %q", address), Cause: err}
	}

	negotiateURL := *reqURL
	negotiateURL.Path = strings.TrimRight(negotiateURL.Path, "/") + "/negotiate"
	q := negotiateURL.Query()
	q.Set("negotiateVersion", "1")
	negotiateURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL.String(), nil)
	if err != nil {
		return negotiateResult{}, &NegotiationError{Message: "building negotiate request failed", Cause: err}
	}
	req.Header = headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return negotiateResult{}, &NegotiationError{Message: "negotiate request failed", Cause: err}
	}
	defer closeResponseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return negotiateResult{}, &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return negotiateResult{}, &NegotiationError{Message: fmt.Sprintf("%v %v -> %v", req.Method, req.URL, resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return negotiateResult{}, &NegotiationError{Message: "reading negotiate response failed", Cause: err}
	}
	nr := negotiateResponse{}
	if err := json.Unmarshal(body, &nr); err != nil {
		return negotiateResult{}, &NegotiationError{Message: fmt.Sprintf("malformed negotiate response %q", body), Cause: err}
	}

	// Redirect: connect to the returned url with its session bound token
	if nr.URL != "" && nr.AccessToken != "" {
		return negotiateResult{
			wsURL:       replaceSchemeWithWs(nr.URL),
			bearerToken: nr.AccessToken,
		}, nil
	}

	id := nr.ConnectionToken
	if id == "" {
		id = nr.ConnectionID
	}
	connURL := *reqURL
	q = connURL.Query()
	q.Set("id", id)
	connURL.RawQuery = q.Encode()
	if ws, ok := schemeToWs[connURL.Scheme]; ok {
		connURL.Scheme = ws
	}
	return negotiateResult{wsURL: connURL.String(), connectionID: nr.ConnectionID}, nil
}

func replaceSchemeWithWs(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return address
	}
	if ws, ok := schemeToWs[u.Scheme]; ok {
		u.Scheme = ws
	}
	return u.String()
}

// closeResponseBody reads a http response body to the end and closes it,
// otherwise the connection will not be reused.
// See https://blog.cubieserver.de/2022/http-connection-reuse-in-go-clients/
func closeResponseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
