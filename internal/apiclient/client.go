// Package apiclient talks to a tgpulse gateway the way a dashboard front
// end does. It keeps the session token in a Slot and forgets it on any 401.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/domain"
	"github.com/danhigham/tgpulse/internal/sessionstore"
)

const (
	defaultCookieName = "tg_session"
	defaultSessionTTL = 30 * 24 * time.Hour
)

type Client struct {
	base       *url.URL
	http       *http.Client
	slot       sessionstore.Slot
	cookieName string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Jar is replaced so
// the pending-login cookie survives between login steps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCookieName(name string) Option {
	return func(c *Client) { c.cookieName = name }
}

func New(baseURL string, slot sessionstore.Slot, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperr.Configuration(fmt.Sprintf("Invalid gateway address %q", baseURL))
	}
	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 2 * time.Minute},
		slot:       slot,
		cookieName: defaultCookieName,
	}
	for _, o := range opts {
		o(c)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := *c.http
	hc.Jar = loginJar{CookieJar: jar, skip: c.cookieName}
	c.http = &hc
	return c, nil
}

// loginJar keeps the pending-login cookie between steps but never the
// session cookie, which lives in the Slot only.
type loginJar struct {
	http.CookieJar
	skip string
}

func (j loginJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	kept := cookies[:0:0]
	for _, ck := range cookies {
		if ck.Name != j.skip {
			kept = append(kept, ck)
		}
	}
	j.CookieJar.SetCookies(u, kept)
}

// LoggedIn reports whether a session token is held locally. It does not
// contact the gateway.
func (c *Client) LoggedIn() bool {
	return c.slot.Has()
}

func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	var out struct {
		PhoneCodeHash string `json:"phoneCodeHash"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/send-code", map[string]string{"phoneNumber": phone}, &out); err != nil {
		return "", err
	}
	if out.PhoneCodeHash == "" {
		return "", apperr.Upstream("Gateway returned no phone code hash", nil)
	}
	return out.PhoneCodeHash, nil
}

// VerifyCode submits the login code. needPassword reports that the
// account also requires its two-factor password.
func (c *Client) VerifyCode(ctx context.Context, phone, code, hash string) (needPassword bool, err error) {
	var out struct {
		Success      bool `json:"success"`
		NeedPassword bool `json:"needPassword"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/verify-code", map[string]string{
		"phoneNumber":   phone,
		"code":          code,
		"phoneCodeHash": hash,
	}, &out)
	if err != nil {
		return false, err
	}
	if out.NeedPassword {
		return true, nil
	}
	return false, c.keepSession(resp)
}

func (c *Client) SignInPassword(ctx context.Context, password string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/sign-in-password", map[string]string{"password": password}, nil)
	if err != nil {
		return err
	}
	return c.keepSession(resp)
}

func (c *Client) Activity(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := c.guarded(ctx, http.MethodGet, "/api/activity", &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

type Status struct {
	Connected bool         `json:"connected"`
	User      *domain.User `json:"user,omitempty"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.guarded(ctx, http.MethodGet, "/api/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Logout clears the local session whatever the gateway answers.
func (c *Client) Logout(ctx context.Context) error {
	token, ok := c.slot.Get()
	if clearErr := c.slot.Clear(); clearErr != nil {
		return clearErr
	}
	if !ok {
		return nil
	}
	_, err := c.doWithToken(ctx, http.MethodPost, "/api/logout", nil, nil, token)
	return err
}

func (c *Client) guarded(ctx context.Context, method, path string, out any) error {
	token, ok := c.slot.Get()
	if !ok {
		return apperr.ErrUnauthorized
	}
	_, err := c.doWithToken(ctx, method, path, nil, out, token)
	return err
}

func (c *Client) keepSession(resp *http.Response) error {
	for _, ck := range resp.Cookies() {
		if ck.Name != c.cookieName || ck.Value == "" {
			continue
		}
		ttl := defaultSessionTTL
		if ck.MaxAge > 0 {
			ttl = time.Duration(ck.MaxAge) * time.Second
		}
		return c.slot.Save(ck.Value, ttl)
	}
	return apperr.Upstream("Gateway did not issue a session", nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	return c.doWithToken(ctx, method, path, in, out, "")
}

func (c *Client) doWithToken(ctx context.Context, method, path string, in, out any, token string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Transient("Gateway unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.Transient("Reading gateway response failed", err)
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, apperr.Upstream("Gateway returned a non-JSON response, check the gateway address",
			fmt.Errorf("%s %s: status %d, content type %q", method, path, resp.StatusCode, resp.Header.Get("Content-Type")))
	}

	if resp.StatusCode >= 400 {
		return nil, c.failure(resp.StatusCode, path, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, apperr.Upstream("Gateway returned malformed JSON", err)
		}
	}
	return resp, nil
}

func (c *Client) failure(status int, path string, data []byte) error {
	var eb struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
		return apperr.Upstream("Gateway returned an error without a message", fmt.Errorf("status %d", status))
	}
	cause := fmt.Errorf("%s: status %d", path, status)

	switch {
	case status == http.StatusUnauthorized:
		_ = c.slot.Clear()
		if strings.HasPrefix(path, "/api/auth/") {
			return &apperr.Error{Kind: apperr.KindAuthentication, Code: "rejected", Msg: eb.Error, Err: cause}
		}
		return apperr.Wrap(apperr.ErrUnauthorized, cause)
	case status == http.StatusBadRequest, status == http.StatusTooManyRequests:
		return &apperr.Error{Kind: apperr.KindValidation, Code: "validation", Msg: eb.Error, Err: cause}
	case status == http.StatusInternalServerError:
		return &apperr.Error{Kind: apperr.KindInternal, Code: "internal", Msg: eb.Error, Err: cause}
	case status >= 500:
		return apperr.Transient(eb.Error, cause)
	default:
		return &apperr.Error{Kind: apperr.KindInternal, Code: "unexpected_status", Msg: eb.Error, Err: cause}
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
