package evolution

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

const integrationBaileys = "WHATSAPP-BAILEYS"

// InstanceInfo describes a gateway instance.
type InstanceInfo struct {
	Name     string `json:"name"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	OwnerJID string `json:"owner_jid,omitempty"`
	APIKey   string `json:"-"`
	QRCode   string `json:"qr_code,omitempty"`
}

// Linked reports whether a WhatsApp account is paired with the instance.
func (i InstanceInfo) Linked() bool {
	return i.OwnerJID != ""
}

// QRCode is the pairing material returned by the connect endpoint. Code is the raw
// string to render; all fields are empty when the instance is already connected.
type QRCode struct {
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	Base64      string `json:"-"`
	Count       int64  `json:"count,omitempty"`
}

// ConnectionState returns open, connecting, close, or StateNotFound when the instance
// does not exist.
func (c *Client) ConnectionState(ctx context.Context) (string, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/instance/connectionState/{instance}"})
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return StateNotFound, nil
		}
		return "", fmt.Errorf("connection state: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	state := parsed.Get("instance.state").String()
	if state == "" {
		state = parsed.Get("state").String()
	}
	if state == "" {
		return "", fmt.Errorf("connection state: response has no state")
	}
	return state, nil
}

func (c *Client) CreateInstance(ctx context.Context) (InstanceInfo, error) {
	raw, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/instance/create",
		body: map[string]any{
			"instanceName": c.instance,
			"qrcode":       true,
			"integration":  integrationBaileys,
		},
	})
	if err != nil {
		return InstanceInfo{}, fmt.Errorf("create instance %s: %w", c.instance, err)
	}

	parsed := gjson.ParseBytes(raw)
	info := InstanceInfo{
		Name:   parsed.Get("instance.instanceName").String(),
		ID:     parsed.Get("instance.instanceId").String(),
		Status: parsed.Get("instance.status").String(),
		QRCode: parsed.Get("qrcode.code").String(),
	}
	if hash := parsed.Get("hash"); hash.IsObject() {
		info.APIKey = hash.Get("apikey").String()
	} else {
		info.APIKey = hash.String()
	}
	if info.Name == "" {
		info.Name = c.instance
	}

	c.log.Info("Instance created", "instance", info.Name, "status", info.Status)
	return info, nil
}

func (c *Client) DeleteInstance(ctx context.Context) error {
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: "/instance/delete/{instance}"}); err != nil {
		return fmt.Errorf("delete instance %s: %w", c.instance, err)
	}
	c.log.Info("Instance deleted", "instance", c.instance)
	return nil
}

// Connect requests a fresh QR code for pairing.
func (c *Client) Connect(ctx context.Context) (QRCode, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/instance/connect/{instance}"})
	if err != nil {
		return QRCode{}, fmt.Errorf("connect instance %s: %w", c.instance, err)
	}

	parsed := gjson.ParseBytes(raw)
	return QRCode{
		Code:        parsed.Get("code").String(),
		PairingCode: parsed.Get("pairingCode").String(),
		Base64:      parsed.Get("base64").String(),
		Count:       parsed.Get("count").Int(),
	}, nil
}

// FetchInstance returns the gateway's record of the bound instance.
func (c *Client) FetchInstance(ctx context.Context) (InstanceInfo, error) {
	raw, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/instance/fetchInstances",
		query:  map[string]string{"instanceName": c.instance},
	})
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return InstanceInfo{Name: c.instance, Status: StateNotFound}, nil
		}
		return InstanceInfo{}, fmt.Errorf("fetch instance %s: %w", c.instance, err)
	}

	record := gjson.ParseBytes(raw)
	if record.IsArray() {
		record = record.Get("0")
	}
	if !record.Exists() {
		return InstanceInfo{Name: c.instance, Status: StateNotFound}, nil
	}

	// v2 records are flat, v1 records nest everything under "instance".
	if nested := record.Get("instance"); nested.IsObject() {
		record = nested
	}

	info := InstanceInfo{
		Name:     firstString(record, "name", "instanceName"),
		ID:       firstString(record, "id", "instanceId"),
		Status:   firstString(record, "connectionStatus", "status"),
		OwnerJID: firstString(record, "ownerJid", "owner"),
	}
	if info.Name == "" {
		info.Name = c.instance
	}
	return info, nil
}

func firstString(record gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := record.Get(path).String(); value != "" {
			return value
		}
	}
	return ""
}
