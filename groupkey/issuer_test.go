package groupkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kdscrypto "github.com/sage-x-project/kds/crypto"
	"github.com/sage-x-project/kds/keystore/memory"
	"github.com/sage-x-project/kds/replay"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/validator"
)

type fixture struct {
	issuer *Issuer
	mgr    *storage.Manager
	engine *kdscrypto.Engine
	v      *validator.Validator
}

func newFixture(t *testing.T) *fixture {
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
	issuer := New(engine, time.Hour, nil)

	return &fixture{issuer: issuer, mgr: mgr, engine: engine, v: v}
}

func buildGroupRequest(t *testing.T, f *fixture, source, group string) (*validator.ValidatedRequest, *storage.Key) {
	t.Helper()
	ctx := context.Background()

	_, err := f.mgr.CreateGroup(ctx, group)
	require.NoError(t, err)
	_, err = f.mgr.SetKey(ctx, source, []byte("source-secret"), nil)
	require.NoError(t, err)

	sourceKey, err := f.mgr.GetKey(ctx, source, nil, nil)
	require.NoError(t, err)

	md := struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Timestamp   string `json:"timestamp"`
		Nonce       string `json:"nonce"`
	}{
		Source:      source,
		Destination: group,
		Timestamp:   time.Now().Format(time.RFC3339),
		Nonce:       "nonce-1",
	}
	raw, err := json.Marshal(md)
	require.NoError(t, err)
	metadataB64 := base64.StdEncoding.EncodeToString(raw)
	sig := f.engine.Sign(sourceKey.Plaintext, []byte(metadataB64))
	signatureB64 := base64.StdEncoding.EncodeToString(sig)

	vr, err := f.v.Validate(ctx, metadataB64, signatureB64)
	require.NoError(t, err)

	groupKey, err := f.v.ValidateGroupMembership(ctx, vr)
	require.NoError(t, err)

	return vr, groupKey
}

func TestIssueReturnsWellFormedResponse(t *testing.T) {
	f := newFixture(t)
	vr, groupKey := buildGroupRequest(t, f, "group.alice", "group")

	resp, err := f.issuer.Issue(context.Background(), vr, groupKey)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Metadata)
	assert.NotEmpty(t, resp.Signature)
	assert.NotEmpty(t, resp.Payload)

	rawMeta, err := base64.StdEncoding.DecodeString(resp.Metadata)
	require.NoError(t, err)
	var meta responseMetadata
	require.NoError(t, json.Unmarshal(rawMeta, &meta))
	assert.Equal(t, "group.alice:1", meta.Source)
	assert.True(t, meta.Encryption)
}

func TestIssuePayloadDecryptsToGroupSecret(t *testing.T) {
	f := newFixture(t)
	vr, groupKey := buildGroupRequest(t, f, "group.alice", "group")

	resp, err := f.issuer.Issue(context.Background(), vr, groupKey)
	require.NoError(t, err)

	plain, err := f.engine.Decrypt(vr.SourceKey.Plaintext, resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, groupKey.Plaintext, plain)
}

func TestIssueSignatureVerifiesUnderSourceKey(t *testing.T) {
	f := newFixture(t)
	vr, groupKey := buildGroupRequest(t, f, "group.alice", "group")

	resp, err := f.issuer.Issue(context.Background(), vr, groupKey)
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	require.NoError(t, err)
	signInput := append([]byte(resp.Metadata), []byte(resp.Payload)...)
	assert.True(t, f.engine.Verify(vr.SourceKey.Plaintext, signInput, sig))
}
