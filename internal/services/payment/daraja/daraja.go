package daraja

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"

	"tanker-booking/internal/services/payment"
	"tanker-booking/internal/status"
)

type Config struct {
	BaseURL        string `json:"baseUrl" mapstructure:"base_url"`
	ConsumerKey    string `json:"consumerKey" mapstructure:"consumer_key"`
	ConsumerSecret string `json:"consumerSecret" mapstructure:"consumer_secret"`
	ShortCode      string `json:"shortCode" mapstructure:"short_code"`
	Passkey        string `json:"passkey" mapstructure:"passkey"`
	CallbackURL    string `json:"callbackUrl" mapstructure:"callback_url"`
	WebhookSecret  string `json:"webhookSecret" mapstructure:"webhook_secret"`

	Sandbox     bool   `json:"sandbox" mapstructure:"sandbox"`
	PNSubKey    string `json:"pn_subkey" mapstructure:"pn_subkey"`
	PNSubSecret string `json:"pn_subsecret" mapstructure:"pn_subsecret"`
	PNUUID      string `json:"pn_uuid" mapstructure:"pn_uuid"`
	PNChannel   string `json:"pn_channel" mapstructure:"pn_channel"`
}

// Daraja integrates the Safaricom M-Pesa Daraja API. Production results
// arrive on the HTTPS callback; the sandbox cannot reach a dev machine, so
// in sandbox mode results arrive over a PubNub feed instead.
type Daraja struct {
	webhookSecret string

	sub *subscribe

	client *Client
}

// payload is a provider result as carried on the sandbox feed.
type payload struct {
	Ref        string          `json:"ref"`
	ResultCode int             `json:"result_code"`
	ResultDesc string          `json:"result_desc"`
	Receipt    string          `json:"mpesa_receipt"`
	Amount     decimal.Decimal `json:"amount"`
	Phone      string          `json:"phone"`
	TxnTime    string          `json:"txn_time"`
}

// New returns a new Daraja instance with a fresh access token.
func New(ctx context.Context, cfg *Config) (*Daraja, error) {
	client := newClient(ctx, &ClientConfig{
		BaseURL:        cfg.BaseURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		ShortCode:      cfg.ShortCode,
		Passkey:        cfg.Passkey,
		CallbackURL:    cfg.CallbackURL,
	})

	// Connect to the Daraja backend. Get access token.
	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	// Notify access token expired.
	go client.notifyAccessTokenExpired(ctx)

	d := &Daraja{
		webhookSecret: cfg.WebhookSecret,
		client:        client,
	}

	if cfg.Sandbox && cfg.PNSubKey != "" {
		pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
		pnCfg.SubscribeKey = cfg.PNSubKey
		pnCfg.SecretKey = cfg.PNSubSecret

		sub, err := d.newSubscription(ctx, pnCfg, cfg.PNChannel)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to sandbox result feed: %v", err)
		}

		sub.pn.AddListener(sub.lis)
		sub.pn.Subscribe().Channels([]string{cfg.PNChannel}).Execute()
		d.sub = sub
	}

	return d, nil
}

type subscribe struct {
	pn      *pubnub.PubNub
	lis     *pubnub.Listener
	channel string
	ch      chan *status.ProviderResult
}

func (d *Daraja) newSubscription(ctx context.Context, pnCfg *pubnub.Config, channel string) (*subscribe, error) {
	sub := &subscribe{
		pn:      pubnub.NewPubNub(pnCfg),
		lis:     pubnub.NewListener(),
		channel: channel,
	}

	go sub.processSubscription(ctx)

	return sub, nil
}

func (s *subscribe) processSubscription(ctx context.Context) {
	listener := s.lis
	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to sandbox result feed")

			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to sandbox result feed")

			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from sandbox result feed")

			default:
				log.Printf("sandbox result feed status: %v", st.Category)
			}

		case message := <-listener.Message:
			var p payload

			switch m := message.Message.(type) {
			case string:
				if err := json.NewDecoder(strings.NewReader(m)).Decode(&p); err != nil {
					log.Println(err)
					continue
				}
			default:
				raw, err := json.Marshal(m)
				if err != nil {
					log.Println(err)
					continue
				}
				if err := json.Unmarshal(raw, &p); err != nil {
					log.Println(err)
					continue
				}
			}

			if s.ch != nil {
				s.ch <- p.ToDomain()
			}

		case <-ctx.Done():
			log.Println("close sandbox result feed")
			return
		}
	}
}

func (p *payload) ToDomain() *status.ProviderResult {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.TxnTime, time.Local)
	if err != nil {
		ts = time.Now()
	}

	return &status.ProviderResult{
		IdempotencyKey: p.Ref,
		Success:        p.ResultCode == 0,
		ProviderRef:    p.Receipt,
		ResultCode:     p.ResultCode,
		ResultDesc:     p.ResultDesc,
		Amount:         p.Amount,
		Phone:          p.Phone,
		ReceivedAt:     ts,
	}
}

// stkCallback is the envelope Daraja posts to the callback URL.
type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback maps a raw callback body onto the domain result. ref is the
// idempotency key carried on the callback URL.
func ParseCallback(body []byte, ref string) (*status.ProviderResult, error) {
	var cb stkCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("parseCallback: json.Unmarshal: %w", err)
	}

	res := &status.ProviderResult{
		IdempotencyKey: ref,
		Success:        cb.Body.StkCallback.ResultCode == 0,
		ResultCode:     cb.Body.StkCallback.ResultCode,
		ResultDesc:     cb.Body.StkCallback.ResultDesc,
		ReceivedAt:     time.Now(),
	}

	for _, item := range cb.Body.StkCallback.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				res.ProviderRef = v
			}
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				res.Amount = decimal.NewFromFloat(v)
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				res.Phone = v
			case float64:
				res.Phone = decimal.NewFromFloat(v).String()
			}
		}
	}

	return res, nil
}

func (d *Daraja) GetProvider() payment.Provider {
	return payment.ProviderDaraja
}

// InitiateSTKPush asks Daraja to prompt the customer's phone.
func (d *Daraja) InitiateSTKPush(ctx context.Context, req *status.STKPushRequest) (*status.STKPushResponse, error) {
	return d.client.stkPush(ctx, req)
}

// VerifyCallback checks the callback signature header.
func (d *Daraja) VerifyCallback(body []byte, signature string) bool {
	return VerifySignature([]byte(d.webhookSecret), body, signature)
}

// ParseCallback implements the provider interface.
func (d *Daraja) ParseCallback(body []byte, ref string) (*status.ProviderResult, error) {
	return ParseCallback(body, ref)
}

// SetResultChannel sets the channel receiving sandbox feed results.
func (d *Daraja) SetResultChannel(ch chan *status.ProviderResult) {
	if d.sub != nil {
		d.sub.ch = ch
	}
}

func (d *Daraja) Close(_ context.Context) error {
	if d.sub != nil {
		d.sub.pn.Unsubscribe().Channels([]string{d.sub.channel}).Execute()
	}
	return nil
}
