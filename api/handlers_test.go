package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kdscrypto "github.com/sage-x-project/kds/crypto"
	"github.com/sage-x-project/kds/groupkey"
	"github.com/sage-x-project/kds/keystore/memory"
	"github.com/sage-x-project/kds/replay"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/ticket"
	"github.com/sage-x-project/kds/validator"
)

func newTestServer(t *testing.T) (*Server, *storage.Manager, *kdscrypto.Engine) {
	t.Helper()
	mkey, err := kdscrypto.NewKey(kdscrypto.KeySize)
	require.NoError(t, err)
	engine, err := kdscrypto.New(mkey, "AES", "SHA256", nil)
	require.NoError(t, err)

	mgr := storage.New(memory.New(), engine, storage.Config{
		StaleWindow: 2 * time.Minute,
		GraceWindow: 10 * time.Minute,
		GroupKeyTTL: 15 * time.Minute,
	}, nil)

	v := validator.New(mgr, engine, replay.New(time.Hour), time.Hour, nil)
	tIssuer := ticket.New(mgr, engine, time.Hour, nil)
	gIssuer := groupkey.New(engine, time.Hour, nil)

	return New(mgr, v, tIssuer, gIssuer, nil), mgr, engine
}

func TestSetKeyThenGetRoundtrip(t *testing.T) {
	s, mgr, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(setKeyRequest{Key: base64.StdEncoding.EncodeToString([]byte("secret"))})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/keys/alice", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out setKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "alice", out.Name)
	assert.Equal(t, uint64(1), out.Generation)

	key, err := mgr.GetKey(context.Background(), "alice", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), key.Plaintext)
}

func TestSetKeyMalformedBase64Is400(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(setKeyRequest{Key: "not-base64!!!"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/keys/alice", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteKeyMissingIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/keys/ghost", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateGroupThenDuplicateIs409(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/groups/team", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req2, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/groups/team", nil)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestIssueTicketEndToEnd(t *testing.T) {
	s, mgr, engine := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	ctx := context.Background()

	_, err := mgr.SetKey(ctx, "alice", []byte("alice-secret"), nil)
	require.NoError(t, err)
	_, err = mgr.SetKey(ctx, "bob", []byte("bob-secret"), nil)
	require.NoError(t, err)
	sourceKey, err := mgr.GetKey(ctx, "alice", nil, nil)
	require.NoError(t, err)

	md := struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Timestamp   string `json:"timestamp"`
		Nonce       string `json:"nonce"`
	}{Source: "alice", Destination: "bob", Timestamp: time.Now().Format(time.RFC3339), Nonce: "n1"}
	raw, _ := json.Marshal(md)
	metadataB64 := base64.StdEncoding.EncodeToString(raw)
	sig := engine.Sign(sourceKey.Plaintext, []byte(metadataB64))

	body, _ := json.Marshal(signedRequest{Metadata: metadataB64, Signature: base64.StdEncoding.EncodeToString(sig)})
	resp, err := http.Post(srv.URL+"/v1/tickets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out ticketResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Ticket)
}

func TestIssueTicketUnknownSourceIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	md := struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Timestamp   string `json:"timestamp"`
		Nonce       string `json:"nonce"`
	}{Source: "ghost", Destination: "bob", Timestamp: time.Now().Format(time.RFC3339), Nonce: "n1"}
	raw, _ := json.Marshal(md)
	metadataB64 := base64.StdEncoding.EncodeToString(raw)

	body, _ := json.Marshal(signedRequest{Metadata: metadataB64, Signature: base64.StdEncoding.EncodeToString([]byte("sig"))})
	resp, err := http.Post(srv.URL+"/v1/tickets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
