// Package subscriptions implements the subscription manager (C7): it
// reconciles a user's enabled Settings features against the set of webhook
// subscriptions registered with the upstream provider, using the same
// app-credential/HTTP-client shape as internal/auth/oauth.Manager
// (client-credentials token fetch, bearer-authorized JSON requests),
// repurposed from "authenticate a user" to "manage a subscription set."
package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"farmhand.dev/core/internal/models"
)

// Condition variants per event type, spec.md §4.7.
const (
	typeStreamOnline  = "stream.online"
	typeStreamOffline = "stream.offline"
	typeChatMessage   = "channel.chat.message"
	typeFollow        = "channel.follow"
	typeSubscribe     = "channel.subscribe"
	typeChannelPoints = "channel.channel_points_custom_reward_redemption.add"
)

// Config configures the Twitch EventSub subscription API client.
type Config struct {
	ClientID        string
	ClientSecret    string
	TokenURL        string // default: https://id.twitch.tv/oauth2/token
	SubscriptionURL string // default: https://api.twitch.tv/helix/eventsub/subscriptions
	CallbackURL     string
	Secret          string // shared HMAC secret the receiver verifies against
	ModeratorUserID string // required for channel.follow v2
	HTTPClient      *http.Client
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return "https://id.twitch.tv/oauth2/token"
}

func (c Config) subscriptionURL() string {
	if c.SubscriptionURL != "" {
		return c.SubscriptionURL
	}
	return "https://api.twitch.tv/helix/eventsub/subscriptions"
}

// Manager reconciles subscriptions for a single broadcaster account.
type Manager struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	appToken    string
	appTokenExp time.Time
}

// New builds a Manager from cfg.
func New(cfg Config) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{cfg: cfg, client: client}
}

// Reconcile lists the broadcaster's existing managed subscriptions, deletes
// them, then recreates one per currently-enabled Settings feature. 409
// (already subscribed, a benign race with a concurrent reconcile) is
// tolerated.
func (m *Manager) Reconcile(ctx context.Context, broadcasterUserID string, settings models.Settings) error {
	token, err := m.appAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch app access token: %w", err)
	}

	existing, err := m.listSubscriptions(ctx, token, broadcasterUserID)
	if err != nil {
		return fmt.Errorf("list existing subscriptions: %w", err)
	}
	for _, sub := range existing {
		if err := m.deleteSubscription(ctx, token, sub.ID); err != nil {
			return fmt.Errorf("delete subscription %s: %w", sub.ID, err)
		}
	}

	requests := m.desiredSubscriptions(broadcasterUserID, settings)
	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req subscriptionRequest) {
			defer wg.Done()
			errs[i] = m.createSubscription(ctx, token, req)
		}(i, req)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type subscriptionRequest struct {
	eventType string
	version   string
	condition map[string]string
}

// desiredSubscriptions maps each enabled Settings feature to its EventSub
// condition shape, per spec.md §4.7.
func (m *Manager) desiredSubscriptions(broadcasterUserID string, settings models.Settings) []subscriptionRequest {
	var reqs []subscriptionRequest
	if settings.Enabled("stream_status") {
		reqs = append(reqs,
			subscriptionRequest{eventType: typeStreamOnline, version: "1", condition: map[string]string{"broadcaster_user_id": broadcasterUserID}},
			subscriptionRequest{eventType: typeStreamOffline, version: "1", condition: map[string]string{"broadcaster_user_id": broadcasterUserID}},
		)
	}
	if settings.Enabled("chat_messages") {
		reqs = append(reqs, subscriptionRequest{
			eventType: typeChatMessage, version: "1",
			condition: map[string]string{"broadcaster_user_id": broadcasterUserID, "user_id": broadcasterUserID},
		})
	}
	if settings.Enabled("follows_subs") {
		reqs = append(reqs,
			subscriptionRequest{
				eventType: typeFollow, version: "2",
				condition: map[string]string{"broadcaster_user_id": broadcasterUserID, "moderator_user_id": m.cfg.ModeratorUserID},
			},
			subscriptionRequest{eventType: typeSubscribe, version: "1", condition: map[string]string{"broadcaster_user_id": broadcasterUserID}},
		)
	}
	if settings.Enabled("channel_points") {
		reqs = append(reqs, subscriptionRequest{
			eventType: typeChannelPoints, version: "1",
			condition: map[string]string{"broadcaster_user_id": broadcasterUserID},
		})
	}
	return reqs
}

type helixSubscription struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

type listSubscriptionsResponse struct {
	Data []helixSubscription `json:"data"`
}

func (m *Manager) listSubscriptions(ctx context.Context, token, broadcasterUserID string) ([]helixSubscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.subscriptionURL()+"?user_id="+broadcasterUserID, nil)
	if err != nil {
		return nil, err
	}
	m.authorize(req, token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list subscriptions failed: %s", string(body))
	}
	var parsed listSubscriptionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode subscription list: %w", err)
	}

	var managed []helixSubscription
	for _, s := range parsed.Data {
		if isManagedType(s.Type) {
			managed = append(managed, s)
		}
	}
	return managed, nil
}

func isManagedType(t string) bool {
	switch t {
	case typeStreamOnline, typeStreamOffline, typeChatMessage, typeFollow, typeSubscribe, typeChannelPoints:
		return true
	default:
		return false
	}
}

func (m *Manager) deleteSubscription(ctx context.Context, token, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.cfg.subscriptionURL()+"?id="+id, nil)
	if err != nil {
		return err
	}
	m.authorize(req, token)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete subscription failed: %s", string(body))
	}
	return nil
}

type createSubscriptionBody struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method   string `json:"method"`
		Callback string `json:"callback"`
		Secret   string `json:"secret"`
	} `json:"transport"`
}

func (m *Manager) createSubscription(ctx context.Context, token string, sub subscriptionRequest) error {
	var body createSubscriptionBody
	body.Type = sub.eventType
	body.Version = sub.version
	body.Condition = sub.condition
	body.Transport.Method = "webhook"
	body.Transport.Callback = m.cfg.CallbackURL
	body.Transport.Secret = m.cfg.Secret

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode subscription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.subscriptionURL(), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req, token)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// A concurrent reconcile racing to (re)create the same subscription is
	// benign: the provider already has exactly the subscription we wanted.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create subscription %s failed: %s", sub.eventType, string(respBody))
	}
	return nil
}

func (m *Manager) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", m.cfg.ClientID)
}

type appTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// appAccessToken fetches (and caches until near-expiry) an app access token
// via the client-credentials grant.
func (m *Manager) appAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.appToken != "" && time.Now().Before(m.appTokenExp) {
		token := m.appToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	form := fmt.Sprintf("client_id=%s&client_secret=%s&grant_type=client_credentials", m.cfg.ClientID, m.cfg.ClientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.tokenURL(), bytes.NewReader([]byte(form)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token request failed: %s", string(body))
	}
	var parsed appTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	m.mu.Lock()
	m.appToken = parsed.AccessToken
	m.appTokenExp = time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - time.Minute)
	m.mu.Unlock()

	return parsed.AccessToken, nil
}
