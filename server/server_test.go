package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/observability"
)

type fakeCompanion struct {
	reply    core.Reply
	err      error
	entered  chan struct{}
	release  chan struct{}
	personas map[string]string
}

func (f *fakeCompanion) Converse(ctx context.Context, id, profile, message string) (core.Reply, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.reply, f.err
}

func (f *fakeCompanion) GetPersona(ctx context.Context, id string) (string, bool, error) {
	p, ok := f.personas[id]
	return p, ok, nil
}

func (f *fakeCompanion) SetPersona(ctx context.Context, id, displayName, raw string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	p := "Persona for " + displayName
	f.personas[id] = p
	return p, nil
}

func (f *fakeCompanion) RefreshServerKnowledge(ctx context.Context, scopeID, raw string) (string, error) {
	return "✅ Database Updated!", f.err
}

func (f *fakeCompanion) Comment(ctx context.Context, title, content, persona, tone string) string {
	return tone + ": " + title
}

func newTestServer(t *testing.T, c *fakeCompanion, cfg Config) *httptest.Server {
	t.Helper()
	if c.personas == nil {
		c.personas = map[string]string{}
	}
	srv := httptest.NewServer(New(cfg, c, observability.NewMetrics("test"), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]string) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func TestConverse(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{reply: core.Reply{Text: "Ok", Reaction: "😂"}}, Config{})

	res, out := postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Profile: "Name: Alice", Message: "hi"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"reply": "Ok", "reaction": "😂"}, out)
}

func TestConverse_Validation(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{}, Config{MaxMessageChars: 5})

	res, out := postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "too long"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Equal(t, "message_too_long", out["code"])
	assert.Contains(t, out["error"], "5 characters")

	// Rune count, not bytes
	res, _ = postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "xin chà"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	res, _ = postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "chàoo"})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, out = postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_request", out["code"])
}

func TestConverse_BusyIdentifier(t *testing.T) {
	c := &fakeCompanion{
		reply:   core.Reply{Text: "done"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv := newTestServer(t, c, Config{})

	first := make(chan int)
	go func() {
		data, _ := json.Marshal(converseRequest{UserID: "u1", Message: "first"})
		res, err := http.Post(srv.URL+"/v1/converse", "application/json", bytes.NewReader(data))
		if err != nil {
			first <- 0
			return
		}
		res.Body.Close()
		first <- res.StatusCode
	}()
	<-c.entered

	res, out := postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "second"})
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, MsgBusy, out["error"])

	close(c.release)
	assert.Equal(t, http.StatusOK, <-first)

	// Released after completion
	go func() { <-c.entered }()
	res, _ = postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "third"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestConverse_HidesInternalErrors(t *testing.T) {
	c := &fakeCompanion{err: errors.New("redis: connection refused")}

	srv := newTestServer(t, c, Config{})
	res, out := postJSON(t, http.MethodPost, srv.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, MsgRetryLater, out["error"])

	debug := newTestServer(t, c, Config{ExposeErrors: true})
	_, out = postJSON(t, http.MethodPost, debug.URL+"/v1/converse", converseRequest{UserID: "u1", Message: "hi"})
	assert.Contains(t, out["error"], "connection refused")
}

func TestConverseWS(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{reply: core.Reply{Text: "Hi"}}, Config{MaxMessageChars: 10})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/converse/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(converseRequest{UserID: "u1", Message: "hi"}))
	var reply map[string]string
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "Hi", reply["reply"])

	require.NoError(t, conn.WriteJSON(converseRequest{UserID: "u1", Message: "this is far too long"}))
	var errFrame map[string]string
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "message_too_long", errFrame["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "invalid_request", errFrame["code"])
}

func TestPersonaEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{}, Config{})

	res, err := http.Get(srv.URL + "/v1/personas/u1")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, out := postJSON(t, http.MethodPut, srv.URL+"/v1/personas/u1", map[string]string{"display_name": "Alice", "input": "call her boss"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Persona for Alice", out["persona"])

	res, err = http.Get(srv.URL + "/v1/personas/u1")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var got map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "Persona for Alice", got["persona"])

	res, _ = postJSON(t, http.MethodPut, srv.URL+"/v1/personas/u1", map[string]string{"display_name": "Alice"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestKnowledgeAndCommentEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{}, Config{})

	res, out := postJSON(t, http.MethodPut, srv.URL+"/v1/knowledge/g1", map[string]string{"text": "rules"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "✅ Database Updated!", out["message"])

	res, out = postJSON(t, http.MethodPost, srv.URL+"/v1/comments", map[string]string{"title": "My day", "tone": "roast"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "roast: My day", out["comment"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeCompanion{reply: core.Reply{Text: "Hi"}}, Config{})

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
