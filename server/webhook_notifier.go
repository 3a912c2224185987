package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier implements ConnectionNotifier by sending a POST request to a webhook URL.
// The payload is a JSON object defined by WebhookNotifierPayload.
type WebhookNotifier struct {
	url      string
	onlyCore bool

	client *http.Client
}

const (
	WebhookEventConnecting    = "connect"
	WebhookEventDisconnecting = "disconnect"
)

const (
	WebhookStatusRejected                = "rejected"
	WebhookStatusMissingRoute            = "missing-route"
	WebhookStatusFailedBackendConnection = "failed-backend-connection"
	WebhookStatusSuccess                 = "success"
)

type WebhookNotifierPayload struct {
	Event           string      `json:"event"`
	Timestamp       time.Time   `json:"timestamp"`
	Status          string      `json:"status"`
	Client          *ClientInfo `json:"client"`
	Server          string      `json:"server,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	BackendHostPort string      `json:"backend,omitempty"`
	Error           string      `json:"error,omitempty"`
}

func NewWebhookNotifier(url string, onlyCore bool) *WebhookNotifier {
	return &WebhookNotifier{
		url:      url,
		onlyCore: onlyCore,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *WebhookNotifier) NotifyRejected(ctx context.Context, clientAddr net.Addr, reason RejectReason) error {
	if w.onlyCore {
		return nil
	}

	payload := &WebhookNotifierPayload{
		Event:     WebhookEventConnecting,
		Timestamp: time.Now(),
		Status:    WebhookStatusRejected,
		Client:    ClientInfoFromAddr(clientAddr),
		Reason:    string(reason),
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyMissingRoute(ctx context.Context, clientAddr net.Addr, serverAddress string) error {
	if w.onlyCore {
		return nil
	}

	payload := &WebhookNotifierPayload{
		Event:     WebhookEventConnecting,
		Timestamp: time.Now(),
		Status:    WebhookStatusMissingRoute,
		Client:    ClientInfoFromAddr(clientAddr),
		Server:    serverAddress,
		Error:     "No endpoint found",
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyFailedBackendConnection(ctx context.Context, clientAddr net.Addr, serverAddress string,
	backendHostPort string, err error) error {

	payload := &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusFailedBackendConnection,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          serverAddress,
		BackendHostPort: backendHostPort,
		Error:           err.Error(),
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyConnected(ctx context.Context, clientAddr net.Addr, serverAddress string, backendHostPort string) error {
	payload := &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          serverAddress,
		BackendHostPort: backendHostPort,
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyDisconnected(ctx context.Context, clientAddr net.Addr, serverAddress string, backendHostPort string) error {
	payload := &WebhookNotifierPayload{
		Event:           WebhookEventDisconnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          serverAddress,
		BackendHostPort: backendHostPort,
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) send(ctx context.Context, payload *WebhookNotifierPayload) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %v", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		w.url,
		bytes.NewBuffer(jsonPayload),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := w.client.Do(req)
		if err != nil {
			logrus.WithError(err).Warn("Failed to send webhook notification")
			return
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 400 {
			logrus.
				WithField("status", resp.StatusCode).
				Warn("webhook receiver responded with an error")
		}
	}()

	return nil
}
