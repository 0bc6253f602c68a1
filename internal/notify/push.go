package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/dugout-developers/catchmate-server/pkg/logger"
	"github.com/dugout-developers/catchmate-server/pkg/metrics"
)

const (
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTimeout = 5 * time.Second
)

// PushConfig configures the external push gateway client.
type PushConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	// Endpoint overrides the gateway URL; empty selects the FCM v1 endpoint
	// for ProjectID.
	Endpoint     string
	Timeout      time.Duration
	ValidateOnly bool
}

// PushData is the structured payload attached to a push message. ChatRoomID
// is present only for acceptance notifications.
type PushData struct {
	BoardID      string
	ChatRoomID   string
	AcceptStatus string
}

// PushDispatcher formats and sends push messages to the external gateway.
//
// Failures are terminal at this boundary: the dispatcher never retries and
// the caller's contract is to inspect the returned error, log it, and move
// on. A notification whose push failed stays visible through the in-app
// notification history.
type PushDispatcher struct {
	client       *http.Client
	endpoint     string
	validateOnly bool
	breaker      *gobreaker.CircuitBreaker[struct{}]
	log          *zap.Logger
}

// NewPushDispatcher builds the dispatcher. With credentials configured the
// HTTP client carries an OAuth2 token source for the messaging scope.
func NewPushDispatcher(cfg PushConfig) (*PushDispatcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &http.Client{Timeout: timeout}
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("push: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(context.Background(), raw, fcmScope)
		if err != nil {
			return nil, fmt.Errorf("push: parse credentials: %w", err)
		}
		client = oauth2.NewClient(context.Background(), creds.TokenSource)
		client.Timeout = timeout
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		if strings.TrimSpace(cfg.ProjectID) == "" {
			return nil, fmt.Errorf("push: project id is required")
		}
		endpoint = fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", cfg.ProjectID)
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "push-gateway",
		Timeout: 30 * time.Second,
	})

	return &PushDispatcher{
		client:       client,
		endpoint:     endpoint,
		validateOnly: cfg.ValidateOnly,
		breaker:      breaker,
		log:          logger.WithModule("push"),
	}, nil
}

type pushRequest struct {
	ValidateOnly bool        `json:"validate_only,omitempty"`
	Message      pushMessage `json:"message"`
}

type pushMessage struct {
	Token        string            `json:"token"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send delivers one push message to the given device. The call is bounded by
// the configured timeout and a circuit breaker; when the gateway is shedding,
// Send fails fast instead of stalling the notification pipeline.
func (d *PushDispatcher) Send(ctx context.Context, deviceToken, title, body string, data PushData) error {
	deviceToken = strings.TrimSpace(deviceToken)
	if deviceToken == "" {
		return fmt.Errorf("push: device token is required")
	}

	payload := pushRequest{
		ValidateOnly: d.validateOnly,
		Message: pushMessage{
			Token:        deviceToken,
			Notification: pushNotification{Title: title, Body: body},
			Data:         data.encode(),
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: encode message: %w", err)
	}

	_, err = d.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(encoded))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return struct{}{}, nil
	})
	if err != nil {
		metrics.PushAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("push: send to gateway: %w", err)
	}

	metrics.PushAttempts.WithLabelValues("success").Inc()
	d.log.Debug("push delivered", zap.String("board_id", data.BoardID))
	return nil
}

func (p PushData) encode() map[string]string {
	data := map[string]string{
		"boardId":      p.BoardID,
		"acceptStatus": p.AcceptStatus,
	}
	if p.ChatRoomID != "" {
		data["chatRoomId"] = p.ChatRoomID
	}
	return data
}
