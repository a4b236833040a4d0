package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// SessionCookie carries the access token on every request and on the live channel handshake.
	SessionCookie = "users_access_token"

	pathLogin    = "/auth/api/login/"
	pathLogout   = "/auth/logout"
	pathUsers    = "/auth/users"
	pathMessages = "/chat/messages"
	pathLive     = "/chat/ws/"

	maxDrainBytes = 64 << 10
)

// Client talks to the auth and message endpoints of the chat service.
// It implements both the directory/logout side and the message store side.
type Client struct {
	baseURL *url.URL
	jar     http.CookieJar
	http    *http.Client
}

type ClientOption func(*Client) error

// WithTimeout bounds every request. Zero disables the timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return errors.Errorf("negative timeout %s", d)
		}
		c.http.Timeout = d
		return nil
	}
}

func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.SetToken(token)
		return nil
	}
}

// WithTransport replaces the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) error {
		c.http.Transport = rt
		return nil
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("server url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}
	c := &Client{
		baseURL: u,
		jar:     jar,
		http:    &http.Client{Jar: jar},
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "apply client option")
		}
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

// Jar exposes the cookie jar so the live channel handshake carries the session.
func (c *Client) Jar() http.CookieJar { return c.jar }

func (c *Client) SetToken(token string) {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  SessionCookie,
		Value: token,
		Path:  "/",
	}})
}

// Token returns the current access token, or "" when there is none.
func (c *Client) Token() string {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		if cookie.Name == SessionCookie {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) clearToken() {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK          bool   `json:"ok"`
	AccessToken string `json:"access_token"`
	Message     string `json:"message"`
}

// Login exchanges credentials for an access token. The token is kept in the
// client's cookie jar and returned so callers can persist it.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, pathLogin, loginRequest{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	token := resp.AccessToken
	if token == "" {
		token = c.Token()
	}
	if token == "" {
		return "", ErrNoToken
	}
	c.SetToken(token)
	return token, nil
}

// Logout terminates the server session. Any 2xx after redirects counts as success.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, pathLogout, nil, nil); err != nil {
		return err
	}
	c.clearToken()
	return nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, pathUsers, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns the stored conversation with partner in server order.
func (c *Client) History(ctx context.Context, partner ID) ([]Message, error) {
	if partner.IsZero() {
		return nil, errors.New("history: empty partner id")
	}
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, pathMessages+"/"+url.PathEscape(partner.String()), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send submits a message. The response body is not used.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) error {
	if msg.RecipientID.IsZero() {
		return errors.New("send: empty recipient id")
	}
	return c.do(ctx, http.MethodPost, pathMessages, msg, nil)
}

// LiveURL is the websocket address of the live channel for partner,
// ws:// for http servers and wss:// for https ones.
func (c *Client) LiveURL(partner ID) *url.URL {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + pathLive + partner.String()
	u.RawPath = c.baseURL.Path + pathLive + url.PathEscape(partner.String())
	return &u
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, path)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	log.Debug().
		Str("component", "api").
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
