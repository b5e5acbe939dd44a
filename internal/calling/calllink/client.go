// Package calllink implements the call-link client (C6): a stateless RPC
// shape over HTTP for the four call-link room operations. All are
// idempotent given the same (rootKey, adminPasskey) and safe to retry on
// network failure, per §4.6.
package calllink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sebas/ringrtc/internal/calling"
)

// HTTPStatusError is a call-link operation's failure mapped to the status
// codes the embedder can act on, per §6/§7.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	switch e.StatusCode {
	case 401:
		return "call-link: unknown room"
	case 403:
		return "call-link: bad passkey"
	case 404:
		return "call-link: not found"
	case 409:
		return "call-link: conflict"
	case 703:
		return "call-link: expired call link"
	case 704:
		return "call-link: invalid call link"
	default:
		return fmt.Sprintf("call-link: unexpected status %d", e.StatusCode)
	}
}

// Client is the C6 call-link HTTP client.
type Client struct {
	log  *slog.Logger
	http *resty.Client

	// readGroup deduplicates concurrent reads of the same room, since a
	// burst of peek-adjacent reads for the same link is the expected
	// traffic shape (§4.6 supplement).
	readGroup singleflight.Group
}

// New builds a Client against baseURL.
func New(log *slog.Logger, baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(2)
	return &Client{log: log, http: http}
}

// RoomPath returns the HTTP path of rootKey's room, exported so the Call
// Manager (C4) can build the same URL for the embedder-mediated request
// registry path (§4.7) that PeekCallLinkCall uses instead of this client's
// own direct resty round trip.
func RoomPath(rootKey string) string {
	return "/v1/call-link/" + rootKey
}

// AuthHeaders returns the admin-passkey header set, exported for the same
// reason as RoomPath.
func AuthHeaders(adminPasskey []byte) map[string]string {
	h := map[string]string{}
	if len(adminPasskey) > 0 {
		h["X-Admin-Passkey"] = string(adminPasskey)
	}
	return h
}

// DecodeBody parses a call-link room body as delivered by the embedder's
// HTTP bridge (C4's request registry), mirroring what this client decodes
// internally for its own direct round trips.
func DecodeBody(raw []byte) (*calling.CallLinkState, error) {
	var body callLinkBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body.toState(), nil
}

func statusError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return &HTTPStatusError{StatusCode: resp.StatusCode()}
}

// Read fetches the current state of a room. Concurrent Reads for the same
// rootKey are coalesced into a single HTTP round trip.
func (c *Client) Read(ctx context.Context, rootKey string) (*calling.CallLinkState, error) {
	v, err, _ := c.readGroup.Do(rootKey, func() (interface{}, error) {
		var body callLinkBody
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&body).
			Get(RoomPath(rootKey))
		if err != nil {
			return nil, err
		}
		if serr := statusError(resp); serr != nil {
			return nil, serr
		}
		return body.toState(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*calling.CallLinkState), nil
}

// Create provisions a new room. Idempotent: a second Create with identical
// parameters returns the same state, per §8.
func (c *Client) Create(ctx context.Context, rootKey string, adminPasskey []byte, name string, restrictions calling.CallLinkRestriction) (*calling.CallLinkState, error) {
	var body callLinkBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(AuthHeaders(adminPasskey)).
		SetBody(map[string]any{"name": name, "restrictions": restrictionWire(restrictions)}).
		SetResult(&body).
		Post(RoomPath(rootKey))
	if err != nil {
		return nil, err
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return body.toState(), nil
}

// Update changes an existing room's name/restrictions/revoked flag.
func (c *Client) Update(ctx context.Context, rootKey string, adminPasskey []byte, name *string, restrictions *calling.CallLinkRestriction, revoked *bool) (*calling.CallLinkState, error) {
	payload := map[string]any{}
	if name != nil {
		payload["name"] = *name
	}
	if restrictions != nil {
		payload["restrictions"] = restrictionWire(*restrictions)
	}
	if revoked != nil {
		payload["revoked"] = *revoked
	}

	var body callLinkBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(AuthHeaders(adminPasskey)).
		SetBody(payload).
		SetResult(&body).
		Put(RoomPath(rootKey))
	if err != nil {
		return nil, err
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return body.toState(), nil
}

// Delete removes a room. A delete after a prior success also returns
// success, per §8.
func (c *Client) Delete(ctx context.Context, rootKey string, adminPasskey []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(AuthHeaders(adminPasskey)).
		Delete(RoomPath(rootKey))
	if err != nil {
		return err
	}
	if resp.StatusCode() == 404 {
		return nil // already deleted: idempotent
	}
	return statusError(resp)
}

// callLinkBody is the JSON shape of a call-link room as served over HTTP.
type callLinkBody struct {
	Name         string `json:"name"`
	Restrictions string `json:"restrictions"`
	Revoked      bool   `json:"revoked"`
	ExpirationMs int64  `json:"expirationMs"`
}

func (b *callLinkBody) toState() *calling.CallLinkState {
	return &calling.CallLinkState{
		Name:         b.Name,
		Restrictions: restrictionFromWire(b.Restrictions),
		Revoked:      b.Revoked,
	}
}

func restrictionWire(r calling.CallLinkRestriction) string {
	switch r {
	case calling.RestrictionAdminApproval:
		return "adminApproval"
	case calling.RestrictionNone:
		return "none"
	default:
		return "unknown"
	}
}

func restrictionFromWire(s string) calling.CallLinkRestriction {
	switch s {
	case "none":
		return calling.RestrictionNone
	case "adminApproval":
		return calling.RestrictionAdminApproval
	default:
		return calling.RestrictionUnknown
	}
}
