// Package groupkey implements GroupKeyIssuer: the simpler mirror of
// ticket.Issuer that hands a group's current secret to a validated
// member, with no per-session subkeys or sealed envelope.
package groupkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
	"github.com/sage-x-project/kds/internal/metrics"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/validator"
)

// sealer is the subset of crypto.Engine the issuer needs.
type sealer interface {
	Encrypt(key, plaintext []byte) (string, error)
	Sign(key, data []byte) []byte
}

// Issuer implements spec §4.6.
type Issuer struct {
	engine sealer
	ttl    time.Duration
	log    logger.Logger
}

// New builds an Issuer. ttl sets the response metadata's expiration,
// mirroring ticket.Issuer.
func New(engine sealer, ttl time.Duration, log logger.Logger) *Issuer {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Issuer{engine: engine, ttl: ttl, log: log}
}

// Response is the wire payload returned for a successful group-key request.
type Response struct {
	Metadata  string
	Signature string
	Payload   string
}

type responseMetadata struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Expiration  string `json:"expiration"`
	Encryption  bool   `json:"encryption"`
}

// Issue implements spec §4.6: vr must already carry a resolved Source
// key, and groupKey must already have passed
// validator.ValidateGroupMembership.
func (i *Issuer) Issue(ctx context.Context, vr *validator.ValidatedRequest, groupKey *storage.Key) (*Response, error) {
	now := time.Now().UTC()
	sourceKeyStr := vr.Source.KeyStr()
	destKeyStr := validator.Endpoint{Name: vr.Destination.Name, Generation: &groupKey.Generation}.KeyStr()

	payload, err := i.engine.Encrypt(vr.SourceKey.Plaintext, groupKey.Plaintext)
	if err != nil {
		return nil, err
	}

	metadataOutRaw, err := json.Marshal(responseMetadata{
		Source:      sourceKeyStr,
		Destination: destKeyStr,
		Expiration:  now.Add(i.ttl).Format(time.RFC3339Nano),
		Encryption:  true,
	})
	if err != nil {
		return nil, kdserrors.NewCryptoError("encrypt", err)
	}
	metadataOut := base64.StdEncoding.EncodeToString(metadataOutRaw)

	signInput := append([]byte(metadataOut), []byte(payload)...)
	signatureOut := i.engine.Sign(vr.SourceKey.Plaintext, signInput)

	i.log.Info("issued group key",
		logger.String("source", vr.Source.Name),
		logger.String("destination", vr.Destination.Name))
	metrics.GroupKeysIssued.Inc()

	return &Response{
		Metadata:  metadataOut,
		Signature: base64.StdEncoding.EncodeToString(signatureOut),
		Payload:   payload,
	}, nil
}
