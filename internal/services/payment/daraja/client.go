package daraja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tanker-booking/internal/status"
)

type ClientConfig struct {
	BaseURL        string `json:"baseUrl" mapstructure:"base_url"`
	ConsumerKey    string `json:"consumerKey" mapstructure:"consumer_key"`
	ConsumerSecret string `json:"consumerSecret" mapstructure:"consumer_secret"`
	ShortCode      string `json:"shortCode" mapstructure:"short_code"`
	Passkey        string `json:"passkey" mapstructure:"passkey"`
	CallbackURL    string `json:"callbackUrl" mapstructure:"callback_url"`
}

type Client struct {
	// baseURL is the base url of the Daraja backend.
	baseURL string

	// consumerKey and consumerSecret authenticate the OAuth token request.
	consumerKey    string
	consumerSecret string

	// shortCode is the paybill/till number receiving the payment.
	shortCode string

	// passkey signs the STK push password.
	passkey string

	// callbackURL receives the asynchronous payment result.
	callbackURL string

	// accessToken is used to authenticate API calls.
	accessToken string

	// mu is used to lock access token.
	mu sync.Mutex

	// toggleTokenRefresher is used to notify token refresher to refresh token.
	toggleTokenRefresher chan struct{}

	// hc is the http client.
	hc *http.Client
}

// newClient creates new instance of Daraja client.
func newClient(_ context.Context, c *ClientConfig) *Client {
	return &Client{
		baseURL:        c.BaseURL,
		consumerKey:    c.ConsumerKey,
		consumerSecret: c.ConsumerSecret,
		shortCode:      c.ShortCode,
		passkey:        c.Passkey,
		callbackURL:    c.CallbackURL,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from the Daraja backend with
// exponential backOff strategy. Daraja tokens expire after 3599 seconds.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("notifyAccessTokenExpired: toggleTokenRefresher => token refreshed")
		}

		// reconnect with exponential backOff strategy
		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("notifyAccessTokenExpired: %v", err)
				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

// setAccessToken set access token to client.
func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

// getAccessToken get access token from client.
func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// connect makes http call to perform OAuth authentication with the Daraja
// backend.
func (c *Client) connect(ctx context.Context) (string, error) {
	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s%s", _baseURL.String(), "/oauth/v1/generate?grant_type=client_credentials"), nil)
	if err != nil {
		return "", fmt.Errorf("connectDaraja: http.NewReq: %v", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectDaraja: http.Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("connectDaraja: resp.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectDaraja: json.Decode: %v", err)
	}
	if reply.AccessToken == "" {
		return "", errors.New("connectDaraja: empty access token")
	}

	return fmt.Sprintf("Bearer %s", reply.AccessToken), nil
}

// stkPush asks Daraja to prompt the customer's phone for payment.
func (c *Client) stkPush(ctx context.Context, f *status.STKPushRequest) (*status.STKPushResponse, error) {
	ts := darajaTimestamp(time.Now())

	// Daraja does not echo AccountReference back in the callback, so the
	// idempotency key rides on the callback URL instead.
	callback := fmt.Sprintf("%s?ref=%s", c.callbackURL, url.QueryEscape(f.IdempotencyKey))

	body, err := json.Marshal(map[string]any{
		"BusinessShortCode": c.shortCode,
		"Password":          stkPassword(c.shortCode, c.passkey, ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            f.Amount.IntPart(),
		"PartyA":            f.Phone,
		"PartyB":            c.shortCode,
		"PhoneNumber":       f.Phone,
		"CallBackURL":       callback,
		"AccountReference":  f.IdempotencyKey,
		"TransactionDesc":   f.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("stkPush: json.Marshal: %v", err)
	}

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s%s", _baseURL.String(), "/mpesa/stkpush/v1/processrequest"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stkPush: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.getAccessToken())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stkPush: http.Do: %v", err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		c.toggleTokenRefresher <- struct{}{}
		return nil, errors.New("stkPush: resp.StatusCode: 401 => Unauthorized")
	}

	var reply struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("stkPush: json.Decode: %w", err)
	}
	if reply.ResponseCode != "0" {
		return nil, fmt.Errorf("stkPush: reply.ResponseCode: %v, reply.ResponseDescription: %v",
			reply.ResponseCode, reply.ResponseDescription)
	}

	return &status.STKPushResponse{
		MerchantRequestID: reply.MerchantRequestID,
		CheckoutRequestID: reply.CheckoutRequestID,
		ResponseCode:      reply.ResponseCode,
		CustomerMessage:   reply.CustomerMessage,
	}, nil
}
