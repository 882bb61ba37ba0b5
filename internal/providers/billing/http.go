package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
)

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type HTTPReporter struct {
	cfg    Config
	client *http.Client
}

func NewHTTP(cfg Config) *HTTPReporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReporter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type usageRecord struct {
	OrganizationID string `json:"organization_id"`
	Key            string `json:"key"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Value          int64  `json:"value"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

type reportResponse struct {
	Accepted []struct {
		OrganizationID string `json:"organization_id"`
		Key            string `json:"key"`
		Year           int    `json:"year"`
		Month          int    `json:"month"`
		Value          int64  `json:"value"`
	} `json:"accepted"`
}

func (r *HTTPReporter) Report(ctx context.Context, meters []meterdomain.Meter) ([]meterdomain.Meter, error) {
	if len(meters) == 0 {
		return nil, nil
	}

	records := make([]usageRecord, 0, len(meters))
	for _, m := range meters {
		rec := usageRecord{
			OrganizationID: m.OrganizationID,
			Key:            m.Key,
			Year:           m.Year,
			Month:          m.Month,
			Value:          m.Value,
		}
		if m.Subscription != nil {
			rec.CustomerID = m.Subscription.CustomerID
			rec.SubscriptionID = m.Subscription.SubscriptionID
		}
		records = append(records, rec)
	}

	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("billing report rejected: status %d: %s", resp.StatusCode, snippet)
	}

	var parsed reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("billing report response: %w", err)
	}

	index := make(map[string]int64, len(parsed.Accepted))
	for _, a := range parsed.Accepted {
		key := fmt.Sprintf("%s/%s:%d-%d", a.OrganizationID, a.Key, a.Year, a.Month)
		index[key] = a.Value
	}

	acked := make([]meterdomain.Meter, 0, len(parsed.Accepted))
	for _, m := range meters {
		value, ok := index[m.RowKey()]
		if !ok {
			continue
		}
		m.Synced = value
		acked = append(acked, m)
	}
	return acked, nil
}
