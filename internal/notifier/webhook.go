package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DingTalk posts text messages to a DingTalk group robot webhook.
type DingTalk struct {
	webhook string
	secret  string
	hc      *http.Client
	now     func() time.Time
}

func NewDingTalk(webhook, secret string, hc *http.Client) *DingTalk {
	return &DingTalk{webhook: webhook, secret: secret, hc: hc, now: time.Now}
}

func (d *DingTalk) Name() string { return "dingtalk" }

func (d *DingTalk) Send(ctx context.Context, text string) error {
	target := d.webhook
	if strings.TrimSpace(d.secret) != "" {
		ts, sign := dingTalkSign(d.secret, d.now())
		u, err := url.Parse(d.webhook)
		if err != nil {
			return fmt.Errorf("dingtalk: webhook: %w", err)
		}
		q := u.Query()
		q.Set("timestamp", ts)
		q.Set("sign", sign)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	body := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": text},
		"at":      map[string]any{"isAtAll": false},
	}
	var resp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := postJSON(ctx, d.hc, target, body, &resp); err != nil {
		return fmt.Errorf("dingtalk: %w", err)
	}
	if resp.ErrCode != 0 {
		return fmt.Errorf("dingtalk: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

// dingTalkSign signs "timestamp\nsecret" with the secret as HMAC-SHA256 key.
// The returned sign is base64 before query escaping.
func dingTalkSign(secret string, now time.Time) (timestamp, sign string) {
	timestamp = strconv.FormatInt(now.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return timestamp, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Lark posts text messages to a Lark (Feishu) custom bot webhook.
type Lark struct {
	webhook string
	secret  string
	hc      *http.Client
	now     func() time.Time
}

func NewLark(webhook, secret string, hc *http.Client) *Lark {
	return &Lark{webhook: webhook, secret: secret, hc: hc, now: time.Now}
}

func (l *Lark) Name() string { return "lark" }

func (l *Lark) Send(ctx context.Context, text string) error {
	body := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": text},
	}
	if strings.TrimSpace(l.secret) != "" {
		ts, sign := larkSign(l.secret, l.now())
		body["timestamp"] = ts
		body["sign"] = sign
	}
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := postJSON(ctx, l.hc, l.webhook, body, &resp); err != nil {
		return fmt.Errorf("lark: %w", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("lark: code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

// larkSign uses "timestamp\nsecret" as the HMAC key over an empty message.
func larkSign(secret string, now time.Time) (timestamp int64, sign string) {
	timestamp = now.Unix()
	mac := hmac.New(sha256.New, []byte(strconv.FormatInt(timestamp, 10)+"\n"+secret))
	return timestamp, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postJSON(ctx context.Context, hc *http.Client, target string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
