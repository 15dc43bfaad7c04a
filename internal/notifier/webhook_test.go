package notifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.UnixMilli(1700000000123)

func TestDingTalkSignedSend(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "abc", q.Get("access_token"))
		assert.Equal(t, "1700000000123", q.Get("timestamp"))

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write([]byte("1700000000123\ns3cret"))
		assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), q.Get("sign"))

		var body struct {
			MsgType string `json:"msgtype"`
			Text    struct {
				Content string `json:"content"`
			} `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text", body.MsgType)
		assert.Equal(t, "hello", body.Text.Content)
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	d := NewDingTalk(srv.URL+"/robot/send?access_token=abc", "s3cret", srv.Client())
	d.now = func() time.Time { return fixed }
	require.NoError(t, d.Send(t.Context(), "hello"))
}

func TestDingTalkErrCodeIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("sign"))
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"sign not match"}`))
	}))
	defer srv.Close()

	err := NewDingTalk(srv.URL, "", srv.Client()).Send(t.Context(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign not match")
}

func TestLarkSignedSend(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Timestamp int64  `json:"timestamp"`
			Sign      string `json:"sign"`
			MsgType   string `json:"msg_type"`
			Content   struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1700000000), body.Timestamp)
		mac := hmac.New(sha256.New, []byte("1700000000\nkey"))
		assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), body.Sign)
		assert.Equal(t, "text", body.MsgType)
		assert.Equal(t, "hi", body.Content.Text)
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	l := NewLark(srv.URL, "key", srv.Client())
	l.now = func() time.Time { return fixed }
	require.NoError(t, l.Send(t.Context(), "hi"))
}

func TestLarkNonZeroCodeIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
	}))
	defer srv.Close()
	assert.Error(t, NewLark(srv.URL, "", srv.Client()).Send(t.Context(), "hi"))
}

func TestWebhookHTTPErrorIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	assert.Error(t, NewDingTalk(srv.URL, "", srv.Client()).Send(t.Context(), "x"))
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	ch, err := NewChannel(ChannelConfig{Kind: "telegram", Token: "TOKEN", Secret: "42", APIURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "telegram", ch.Name())
	require.NoError(t, ch.Send(t.Context(), "ping"))
}

func TestNewChannel(t *testing.T) {
	t.Parallel()
	ch, err := NewChannel(ChannelConfig{Token: "https://example.invalid/hook"})
	require.NoError(t, err)
	assert.Equal(t, "dingtalk", ch.Name())

	ch, err = NewChannel(ChannelConfig{Kind: "LARK", Token: "https://example.invalid/hook"})
	require.NoError(t, err)
	assert.Equal(t, "lark", ch.Name())

	_, err = NewChannel(ChannelConfig{Kind: "pigeon", Token: "x"})
	assert.Error(t, err)
	_, err = NewChannel(ChannelConfig{Kind: "dingtalk"})
	assert.Error(t, err)
	_, err = NewChannel(ChannelConfig{Kind: "telegram", Token: "x", Secret: "not-a-number"})
	assert.Error(t, err)
}
