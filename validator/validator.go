// Package validator implements RequestValidator: turns a
// (metadata_b64, signature_b64) pair into an eagerly-resolved
// ValidatedRequest, or an error kind describing why it couldn't.
package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
	"github.com/sage-x-project/kds/internal/metrics"
	"github.com/sage-x-project/kds/replay"
	"github.com/sage-x-project/kds/storage"
)

// Endpoint is a parsed "name:generation" reference; Generation is nil
// when the caller asked for the latest generation.
type Endpoint struct {
	Name       string
	Generation *uint64
}

// KeyStr renders the endpoint the way the wire protocol and the ticket
// "info" string expect: "name:generation".
func (e Endpoint) KeyStr() string {
	if e.Generation == nil {
		return e.Name
	}
	return fmt.Sprintf("%s:%d", e.Name, *e.Generation)
}

// metadata is the parsed request envelope (spec §4.4 step 2).
type metadata struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Timestamp   string `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

// ValidatedRequest is the single eager value RequestValidator builds,
// in place of lazily cached per-request attributes (§9 design notes).
type ValidatedRequest struct {
	MetadataB64 string
	Source      Endpoint
	Destination Endpoint
	Nonce       string
	Timestamp   time.Time

	// SourceKey is the plaintext of Source's resolved key, fetched during
	// validation since step 4 and step 7 both need it.
	SourceKey *storage.Key
}

// Validator resolves and authenticates ticket and group-key requests.
type Validator struct {
	storage *storage.Manager
	engine  signer
	replay  *replay.Cache
	ttl     time.Duration
	log     logger.Logger
}

// signer is the subset of crypto.Engine the validator needs; kept as an
// interface so tests can use a fake without a real master key.
type signer interface {
	Sign(key, data []byte) []byte
	Verify(key, data, mac []byte) bool
}

// New builds a Validator. ttl bounds request freshness (spec §4.4 step 5,
// default 3600s); replayCache may be nil to disable replay protection.
func New(mgr *storage.Manager, engine signer, replayCache *replay.Cache, ttl time.Duration, log logger.Logger) *Validator {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Validator{storage: mgr, engine: engine, replay: replayCache, ttl: ttl, log: log}
}

// Validate implements spec §4.4 steps 1-7, shared by ticket and
// group-key requests.
func (v *Validator) Validate(ctx context.Context, metadataB64, signatureB64 string) (*ValidatedRequest, error) {
	vr, err := v.validate(ctx, metadataB64, signatureB64)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(failureReason(err)).Inc()
	}
	return vr, err
}

func (v *Validator) validate(ctx context.Context, metadataB64, signatureB64 string) (*ValidatedRequest, error) {
	rawMeta, err := base64.StdEncoding.DecodeString(metadataB64)
	if err != nil {
		return nil, kdserrors.NewBadRequestError("metadata", err)
	}

	var md metadata
	if err := json.Unmarshal(rawMeta, &md); err != nil {
		return nil, kdserrors.NewBadRequestError("metadata", err)
	}

	if md.Source == "" {
		return nil, kdserrors.NewBadRequestError("source", nil)
	}
	if md.Destination == "" {
		return nil, kdserrors.NewBadRequestError("destination", nil)
	}
	if md.Timestamp == "" {
		return nil, kdserrors.NewBadRequestError("timestamp", nil)
	}
	if md.Nonce == "" {
		return nil, kdserrors.NewBadRequestError("nonce", nil)
	}

	source, err := parseEndpoint(md.Source)
	if err != nil {
		return nil, kdserrors.NewBadRequestError("endpoint", err)
	}
	destination, err := parseEndpoint(md.Destination)
	if err != nil {
		return nil, kdserrors.NewBadRequestError("endpoint", err)
	}

	sourceKey, err := v.storage.GetKey(ctx, source.Name, source.Generation, boolPtr(false))
	if err != nil {
		return nil, err
	}
	source.Generation = &sourceKey.Generation

	timestamp, err := time.Parse(time.RFC3339, md.Timestamp)
	if err != nil {
		return nil, kdserrors.NewBadRequestError("timestamp", err)
	}
	if time.Since(timestamp) > v.ttl {
		return nil, kdserrors.NewUnauthorizedError("expired")
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, kdserrors.NewBadRequestError("signature", err)
	}
	if !v.engine.Verify(sourceKey.Plaintext, []byte(metadataB64), signature) {
		return nil, kdserrors.NewUnauthorizedError("signature")
	}

	if v.replay != nil && v.replay.Seen(source.Name, md.Nonce) {
		return nil, kdserrors.NewUnauthorizedError("bad_nonce")
	}

	return &ValidatedRequest{
		MetadataB64: metadataB64,
		Source:      source,
		Destination: destination,
		Nonce:       md.Nonce,
		Timestamp:   timestamp,
		SourceKey:   sourceKey,
	}, nil
}

// ValidateGroupMembership enforces the extra rule group-key requests
// impose on top of Validate: destination must resolve as a group, and
// the source's name must be prefixed by the group's name followed by a
// dot.
func (v *Validator) ValidateGroupMembership(ctx context.Context, vr *ValidatedRequest) (*storage.Key, error) {
	groupKey, err := v.validateGroupMembership(ctx, vr)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(failureReason(err)).Inc()
	}
	return groupKey, err
}

func (v *Validator) validateGroupMembership(ctx context.Context, vr *ValidatedRequest) (*storage.Key, error) {
	groupKey, err := v.storage.GetKey(ctx, vr.Destination.Name, vr.Destination.Generation, boolPtr(true))
	if err != nil {
		return nil, err
	}

	prefix, _, ok := strings.Cut(vr.Source.Name, ".")
	if !ok || prefix != vr.Destination.Name {
		return nil, kdserrors.NewUnauthorizedError("not_member")
	}

	return groupKey, nil
}

// failureReason maps a kdserrors kind to the label ValidationFailures
// tracks by; UnauthorizedError/BadRequestError already carry the exact
// reason spec.md §4.4 names, everything else collapses to its sentinel.
func failureReason(err error) string {
	var ue *kdserrors.UnauthorizedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	var br *kdserrors.BadRequestError
	if errors.As(err, &br) {
		return "bad_request:" + br.Field
	}
	if errors.Is(err, kdserrors.ErrKeyNotFound) {
		return "key_not_found"
	}
	return "other"
}

// parseEndpoint parses "name" or "name:generation", following the
// kite split_host convention of an optional colon-separated suffix.
func parseEndpoint(s string) (Endpoint, error) {
	name, genStr, hasGen := strings.Cut(s, ":")
	if name == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint name")
	}
	if !hasGen {
		return Endpoint{Name: name}, nil
	}

	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid generation %q: %w", genStr, err)
	}
	return Endpoint{Name: name, Generation: &gen}, nil
}

func boolPtr(b bool) *bool { return &b }
