// Package remote is the family ledger client: batched merge writes for
// captured records, control document fetches, and status heartbeats.
package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guardiand/internal/config"
	"guardiand/internal/logging"
)

// Record collections under each family/child root. controls-in is
// parent-writable/child-readable; controls-out is the reverse.
const (
	CollectionUsage       = "usage"
	CollectionMessages    = "messages"
	CollectionControlsIn  = "controls-in"
	CollectionControlsOut = "controls-out"
	CollectionAlerts      = "alerts"
)

// Record is one document bound for a ledger collection. Writes always
// merge by id, so re-delivery of the same id is a no-op, not a duplicate.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Heartbeat is the daemon's externally observable status document.
// Its staleness is itself the signal that syncing has stopped.
type Heartbeat struct {
	DeviceID   string            `json:"device_id"`
	At         time.Time         `json:"at"`
	Watermarks map[string]string `json:"watermarks,omitempty"`
	Version    string            `json:"version"`
}

// Client talks to the ledger. All requests are signed with the device
// key; constructing a client requires a loaded identity.
type Client struct {
	baseURL  string
	identity *Identity
	http     *http.Client
	log      *logging.Logger
}

// New creates a ledger client.
func New(cfg config.RemoteConfig, identity *Identity, log *logging.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		identity: identity,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		log:      log.WithComponent("remote"),
	}
}

// childPath builds the hierarchical namespace path for this device's
// child identity.
func (c *Client) childPath(suffix string) string {
	return fmt.Sprintf("/v1/families/%s/children/%s/%s",
		c.identity.FamilyID, c.identity.ChildID, suffix)
}

// BatchWrite commits records to a collection in one atomic merge write.
// Callers are responsible for chunking: the ledger rejects batches over
// its operation ceiling.
func (c *Client) BatchWrite(ctx context.Context, collection string, records []Record) error {
	if c.identity == nil || len(c.identity.Key) == 0 {
		return ErrIdentityMissing
	}
	if len(records) == 0 {
		return nil
	}

	type write struct {
		ID     string         `json:"id"`
		Merge  bool           `json:"merge"`
		Fields map[string]any `json:"fields"`
	}
	writes := make([]write, len(records))
	for i, r := range records {
		writes[i] = write{ID: r.ID, Merge: true, Fields: r.Fields}
	}

	return c.do(ctx, http.MethodPost, c.childPath(collection+":batchWrite"),
		map[string]any{"writes": writes}, nil)
}

// FetchControls retrieves and validates the controller's current
// restriction/limit document. A ledger 404 means no controls have been
// written yet and returns (nil, nil).
func (c *Client) FetchControls(ctx context.Context) (*ControlDocument, error) {
	if c.identity == nil || len(c.identity.Key) == 0 {
		return nil, ErrIdentityMissing
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, c.childPath(CollectionControlsIn), nil, &raw)
	if err != nil {
		var le *Error
		if errors.As(err, &le) && le.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	doc, err := ParseControlDocument(raw)
	if err != nil {
		return nil, &Error{Transient: false, Msg: fmt.Sprintf("invalid control document: %v", err)}
	}
	return doc, nil
}

// AckControls records that a control document was applied, via the
// child-writable controls-out collection.
func (c *Client) AckControls(ctx context.Context, doc *ControlDocument) error {
	rec := Record{
		ID: "ack",
		Fields: map[string]any{
			"applied_at": time.Now().UTC().Format(time.RFC3339),
			"updated_at": doc.UpdatedAt.Format(time.RFC3339),
			"device_id":  c.identity.DeviceID,
		},
	}
	return c.BatchWrite(ctx, CollectionControlsOut, []Record{rec})
}

// SendHeartbeat writes the status heartbeat document.
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) error {
	if c.identity == nil || len(c.identity.Key) == 0 {
		return ErrIdentityMissing
	}
	return c.do(ctx, http.MethodPut, c.childPath("status"), hb, nil)
}

// do executes one signed request and decodes the response into out when
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Transient: false, Msg: fmt.Sprintf("encode request: %v", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Transient: false, Msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, method, path, payload)

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors (refused, reset, deadline) are transient.
		return &Error{Transient: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Transient: false, Msg: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

// sign attaches the device identity headers. The signature covers the
// method, path, and a digest of the body.
func (c *Client) sign(req *http.Request, method, path string, payload []byte) {
	digest := sha256.Sum256(payload)
	msg := method + "\n" + path + "\n" + base64.StdEncoding.EncodeToString(digest[:])
	sig := ed25519.Sign(c.identity.Key, []byte(msg))

	req.Header.Set("X-Guardian-Device", c.identity.DeviceID)
	req.Header.Set("X-Guardian-Signature", base64.StdEncoding.EncodeToString(sig))
}
