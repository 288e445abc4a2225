package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/spawnctl/internal/units"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrBaseURLRequired = errors.New("authority: base url required")
	ErrSelfRequired    = errors.New("authority: self principal required")
	ErrDecodeReply     = errors.New("authority: decode reply")
)

// ClientConfig binds a client to one authority endpoint and one paying principal.
type ClientConfig struct {
	BaseURL    string
	Self       units.Principal
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues management and unit calls over HTTP.
type Client struct {
	base string
	self units.Principal
	http *http.Client
}

// NewClient validates cfg and builds a traced client for the authority at BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("authority: parse base url %q: %w", base, err)
	}
	if strings.TrimSpace(string(cfg.Self)) == "" {
		return nil, ErrSelfRequired
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{base: base, self: cfg.Self, http: hc}, nil
}

// Self returns the principal this client pays and calls as.
func (c *Client) Self() units.Principal {
	return c.self
}

// CreateUnit issues one funded create_unit call carrying the whole budget.
func (c *Client) CreateUnit(ctx context.Context, cycles units.Cycles, settings units.Settings) (units.UnitID, error) {
	var out CreateUnitResponse
	req := CreateUnitRequest{Cycles: cycles, Settings: settings}
	if err := c.do(ctx, http.MethodPost, pathCreateUnit, req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(out.UnitID)) == "" {
		return "", fmt.Errorf("%w: empty unit_id", ErrDecodeReply)
	}
	return out.UnitID, nil
}

// InstallCode pushes code into a created unit.
func (c *Client) InstallCode(ctx context.Context, rec units.InstallRecord) error {
	arg := rec.Arg
	if arg == nil {
		arg = []byte{}
	}
	req := InstallCodeRequest{
		Mode:       rec.Mode,
		UnitID:     rec.UnitID,
		WasmModule: rec.Code,
		Arg:        arg,
	}
	return c.do(ctx, http.MethodPost, pathInstallCode, req, &emptyReply{})
}

// DeleteUnit stops and removes a unit controlled by this client.
func (c *Client) DeleteUnit(ctx context.Context, id units.UnitID) error {
	return c.do(ctx, http.MethodPost, pathDeleteUnit, DeleteUnitRequest{UnitID: id}, &emptyReply{})
}

// UpdateSettings replaces the settings of a unit this client controls.
func (c *Client) UpdateSettings(ctx context.Context, id units.UnitID, settings units.Settings) error {
	return c.do(ctx, http.MethodPost, pathUpdate, UpdateSettingsRequest{UnitID: id, Settings: settings}, &emptyReply{})
}

// Balance returns the cycle balance held by principal.
func (c *Client) Balance(ctx context.Context, principal units.Principal) (units.Cycles, error) {
	var out BalanceResponse
	if err := c.do(ctx, http.MethodGet, pathBalance+url.PathEscape(string(principal)), nil, &out); err != nil {
		return units.Cycles{}, err
	}
	return out.Amount, nil
}

// SelfBalance returns the balance of the paying principal.
func (c *Client) SelfBalance(ctx context.Context) (units.Cycles, error) {
	return c.Balance(ctx, c.self)
}

// Call invokes an update method on an installed unit.
func (c *Client) Call(ctx context.Context, unit units.UnitID, method string, arg any, out any) error {
	return c.do(ctx, http.MethodPost, unitMethodPath(unit, "call", method), arg, out)
}

// Query invokes a read-only method on an installed unit.
func (c *Client) Query(ctx context.Context, unit units.UnitID, method string, arg any, out any) error {
	return c.do(ctx, http.MethodPost, unitMethodPath(unit, "query", method), arg, out)
}

// Units lists every unit in the authority's bookkeeping.
func (c *Client) Units(ctx context.Context) ([]UnitStatus, error) {
	var out struct {
		Units []UnitStatus `json:"units"`
	}
	if err := c.do(ctx, http.MethodGet, pathUnits, nil, &out); err != nil {
		return nil, err
	}
	return out.Units, nil
}

// Unit returns bookkeeping for one unit.
func (c *Client) Unit(ctx context.Context, id units.UnitID) (UnitStatus, error) {
	var out UnitStatus
	if err := c.do(ctx, http.MethodGet, pathUnits+"/"+url.PathEscape(string(id)), nil, &out); err != nil {
		return UnitStatus{}, err
	}
	return out, nil
}

func unitMethodPath(unit units.UnitID, kind string, method string) string {
	return pathUnits + "/" + url.PathEscape(string(unit)) + "/" + kind + "/" + url.PathEscape(strings.TrimSpace(method))
}

// do sends one JSON request; every failure below the HTTP layer becomes a transient Reject.
func (c *Client) do(ctx context.Context, method string, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authority: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("authority: build request %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderCaller, string(c.self))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().
			Str("method", method).
			Str("path", path).
			Err(err).
			Msg("authority_call_failed")
		return &Reject{Code: CodeSysTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Reject{Code: CodeSysTransient, Message: fmt.Sprintf("read reply: %v", err)}
	}
	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("authority_call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeReject(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecodeReply, path, err)
	}
	return nil
}

func decodeReject(status int, raw []byte) error {
	var rej Reject
	if err := json.Unmarshal(raw, &rej); err == nil && rej.Code != 0 {
		return &rej
	}
	code := CodeSysFatal
	if status == http.StatusNotFound {
		code = CodeDestinationInvalid
	} else if status >= 500 {
		code = CodeSysTransient
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Reject{Code: code, Message: fmt.Sprintf("status %d: %s", status, msg)}
}
