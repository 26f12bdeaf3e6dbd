package call

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/metrics"
)

const defaultDailyBaseURL = "https://api.daily.co/v1"

// APIError is a non-2xx reply from the room vendor.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daily %s: status %d: %s", e.Op, e.Status, e.Body)
}

type DailyOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// DailyProvider talks to the Daily REST API on behalf of the server.
type DailyProvider struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewDailyProvider(opts DailyOptions) (*DailyProvider, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("daily api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultDailyBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DailyProvider{apiKey: apiKey, baseURL: baseURL, http: client, log: opts.Logger}, nil
}

func (p *DailyProvider) Name() string { return "daily" }

func (p *DailyProvider) Presence() bool { return true }

func (p *DailyProvider) Room(roomURL string, party Party) (Room, error) {
	name, err := RoomName(roomURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(party.UserID) == "" {
		return nil, ErrNoParty
	}
	return &dailyRoom{p: p, name: name, party: party}, nil
}

type dailyRoom struct {
	p     *DailyProvider
	name  string
	party Party
}

// Join confirms the room exists; the browser widget does the actual joining.
func (r *dailyRoom) Join(ctx context.Context) error {
	_, err := r.p.do(ctx, "get_room", http.MethodGet, "/rooms/"+r.name, nil)
	return err
}

// Leave ejects this party's sessions. The other party sees participant-left
// and stays in the call.
func (r *dailyRoom) Leave(ctx context.Context) error {
	present, err := r.Participants(ctx)
	if err != nil {
		return err
	}
	ids := r.own(present)
	if len(ids) == 0 {
		return nil
	}
	r.p.log.Debug().Str("room", r.name).Str("role", r.party.Role).Strs("ids", ids).Msg("daily eject party")
	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return err
	}
	_, err = r.p.do(ctx, "eject", http.MethodPost, "/rooms/"+r.name+"/eject", body)
	return err
}

// own returns the session ids that belong to this handle's party. Sessions
// joined without a token user_id fall back to matching the user name.
func (r *dailyRoom) own(present map[string]Participant) []string {
	var ids []string
	for id, p := range present {
		switch {
		case p.UserID != "":
			if p.UserID == r.party.UserID {
				ids = append(ids, id)
			}
		case p.UserName == r.party.UserID:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type presenceResponse struct {
	TotalCount int `json:"total_count"`
	Data       []struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		JoinTime string `json:"joinTime"`
	} `json:"data"`
}

func (r *dailyRoom) Participants(ctx context.Context) (map[string]Participant, error) {
	raw, err := r.p.do(ctx, "presence", http.MethodGet, "/rooms/"+r.name+"/presence", nil)
	if err != nil {
		return nil, err
	}
	var resp presenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	out := make(map[string]Participant, len(resp.Data))
	for _, d := range resp.Data {
		p := Participant{ID: d.ID, UserID: d.UserID, UserName: d.UserName}
		if ts, err := time.Parse(time.RFC3339, d.JoinTime); err == nil {
			p.JoinedAt = ts
		}
		out[d.ID] = p
	}
	return out, nil
}

func (p *DailyProvider) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var out []byte
	start := time.Now()
	err := retryDaily(ctx, p.log, op, func(callCtx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, p.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		out = data
		return nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Default().ObserveWidgetOp(op, status, time.Since(start))
	return out, err
}

func retryDaily(ctx context.Context, log zerolog.Logger, op string, fn func(context.Context) error) error {
	const (
		maxAttempts = 4
		baseDelay   = 250 * time.Millisecond
		maxDelay    = 2 * time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientDailyError(err) {
			return err
		}
		if attempt == maxAttempts {
			metrics.Default().IncWidgetRetryExhausted(op)
			return err
		}
		metrics.Default().IncWidgetRetry(op, dailyErrorReason(err))
		delay := baseDelay * time.Duration(1<<(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = withJitter(delay)
		log.Warn().Str("op", op).Int("attempt", attempt).Int64("delay_ms", delay.Milliseconds()).Err(err).Msg("daily retry")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := delay - floor
	if span <= 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + (span / 2)
	}
	n := binary.LittleEndian.Uint64(raw[:]) % uint64(span)
	// Jittered delay in [10% of base, 100% of base).
	return floor + time.Duration(n)
}

func isTransientDailyError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func dailyErrorReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.Status)
	}
	return "network"
}
