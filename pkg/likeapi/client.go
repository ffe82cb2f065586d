package likeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"likegate/pkg/httpx"
	"likegate/pkg/telemetry"
)

const DefaultTimeout = 30 * time.Second

type Kind string

const (
	KindSuccess          Kind = "SUCCESS"
	KindAlreadySatisfied Kind = "ALREADY_SATISFIED"
	KindNotFound         Kind = "NOT_FOUND"
	KindUnknown          Kind = "UNKNOWN"
	KindConnectionFailed Kind = "CONNECTION_FAILED"
)

// Details is what the API reports about the player.
type Details struct {
	Nickname string `json:"nickname"`
	UID      string `json:"uid,omitempty"`
	Level    int64  `json:"level,omitempty"`
	Region   string `json:"region,omitempty"`
	Before   int64  `json:"likes_before"`
	After    int64  `json:"likes_after"`
	Added    int64  `json:"likes_added"`
}

// Outcome classifies one like request. Only KindSuccess consumes quota.
type Outcome struct {
	Kind    Kind    `json:"kind"`
	Code    int     `json:"code,omitempty"`
	Details Details `json:"details"`
	Err     error   `json:"-"`
}

func (o Outcome) Consumes() bool { return o.Kind == KindSuccess }

// Sender is implemented by Client and by test doubles.
type Sender interface {
	SendLike(ctx context.Context, uid, region string) Outcome
}

type Client struct {
	BaseURL string
	Key     string
	HTTP    *http.Client
	Retry   httpx.Retry
	Timeout time.Duration
}

func NewClient(baseURL, key string, timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		HTTP:    telemetry.InstrumentClient(&http.Client{Timeout: timeout}),
		Retry:   httpx.Retry{Attempts: retries, Delay: 500 * time.Millisecond},
		Timeout: timeout,
	}
}

// SendLike calls {base}/like?uid=&region=&key=. Transport faults, timeouts, non-200
// statuses and undecodable bodies all come back as KindConnectionFailed.
func (c *Client) SendLike(ctx context.Context, uid, region string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("region", NormalizeRegion(region))
	q.Set("key", c.Key)
	status, body, err := httpx.Get(ctx, c.HTTP, c.BaseURL+"/like", q, nil, c.Retry)
	if err != nil {
		log.Printf("like api: request failed uid=%s: %v", uid, err)
		return Outcome{Kind: KindConnectionFailed, Err: err}
	}
	if status != http.StatusOK {
		log.Printf("like api: unexpected status %d uid=%s", status, uid)
		return Outcome{Kind: KindConnectionFailed, Code: status, Err: fmt.Errorf("like api status %d", status)}
	}
	return Classify(body)
}

type apiResponse struct {
	Status flexInt `json:"status"`
	Player struct {
		Nickname flexString `json:"nickname"`
		UID      flexString `json:"uid"`
		Level    flexInt    `json:"level"`
		Region   flexString `json:"region"`
	} `json:"player"`
	Likes struct {
		Before     flexInt `json:"before"`
		After      flexInt `json:"after"`
		AddedByAPI flexInt `json:"added_by_api"`
	} `json:"likes"`
}

// Classify maps a 200 response body to an outcome.
func Classify(body []byte) Outcome {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Outcome{Kind: KindConnectionFailed, Err: fmt.Errorf("decode like response: %w", err)}
	}
	d := Details{
		Nickname: string(resp.Player.Nickname),
		UID:      string(resp.Player.UID),
		Level:    int64(resp.Player.Level),
		Region:   string(resp.Player.Region),
		Before:   int64(resp.Likes.Before),
		After:    int64(resp.Likes.After),
		Added:    int64(resp.Likes.AddedByAPI),
	}
	if d.Nickname == "" {
		d.Nickname = "Unknown"
	}
	code := int(resp.Status)
	switch code {
	case 1:
		return Outcome{Kind: KindSuccess, Code: code, Details: d}
	case 2:
		return Outcome{Kind: KindAlreadySatisfied, Code: code, Details: d}
	case 3:
		return Outcome{Kind: KindNotFound, Code: code, Details: d}
	default:
		return Outcome{Kind: KindUnknown, Code: code, Details: d}
	}
}

// flexInt accepts a JSON number or a numeric string. Anything else decodes to zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			*f = flexInt(i)
			return nil
		}
		if fl, err := n.Float64(); err == nil {
			*f = flexInt(int64(fl))
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			*f = flexInt(i)
		}
	}
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
	}
	return nil
}

// IsTimeout reports whether the outcome failed because the deadline passed.
func (o Outcome) IsTimeout() bool {
	return o.Err != nil && errors.Is(o.Err, context.DeadlineExceeded)
}
