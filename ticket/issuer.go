// Package ticket implements TicketIssuer: given a validated request, it
// mints a fresh session key pair, seals it for the destination, and
// returns a signed ticket envelope to the source.
package ticket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	kdscrypto "github.com/sage-x-project/kds/crypto"
	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
	"github.com/sage-x-project/kds/internal/metrics"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/validator"
)

// sealer is the subset of crypto.Engine the issuer needs.
type sealer interface {
	DeriveSession(prk []byte, info string, size int) (sigKey, encKey []byte, err error)
	Encrypt(key, plaintext []byte) (string, error)
	Sign(key, data []byte) []byte
}

// Issuer implements spec §4.5.
type Issuer struct {
	storage *storage.Manager
	engine  sealer
	ttl     time.Duration
	log     logger.Logger
}

// New builds an Issuer. ttl is the ticket's validity window
// (spec default 3600s), used both for esek's embedded ttl and the
// response metadata's expiration.
func New(mgr *storage.Manager, engine sealer, ttl time.Duration, log logger.Logger) *Issuer {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Issuer{storage: mgr, engine: engine, ttl: ttl, log: log}
}

// Response is the wire payload returned for a successful ticket request.
type Response struct {
	Metadata  string
	Signature string
	Ticket    string
}

// esekPayload is the sealed session-seed envelope only the destination
// can open.
type esekPayload struct {
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
	TTL       int64  `json:"ttl"`
}

// ticketPayload is what's sealed back to the source; field order
// (skey, ekey, esek) follows original_source/kite's set_ticket.
type ticketPayload struct {
	SKey string `json:"skey"`
	EKey string `json:"ekey"`
	Esek string `json:"esek"`
}

type responseMetadata struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Expiration  string `json:"expiration"`
	Encryption  bool   `json:"encryption"`
}

// Issue implements spec §4.5 steps 1-10. vr must already carry a resolved
// Source key; the Destination is resolved here via StorageManager as a
// non-group endpoint.
func (i *Issuer) Issue(ctx context.Context, vr *validator.ValidatedRequest) (*Response, error) {
	start := time.Now()
	defer func() { metrics.TicketIssueDuration.Observe(time.Since(start).Seconds()) }()

	isGroup := false
	destKey, err := i.storage.GetKey(ctx, vr.Destination.Name, vr.Destination.Generation, &isGroup)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sourceKeyStr := keyStr(vr.Source.Name, vr.SourceKey.Generation)
	destKeyStr := keyStr(vr.Destination.Name, destKey.Generation)
	info := fmt.Sprintf("%s,%s,%s", sourceKeyStr, destKeyStr, now.Format(time.RFC3339Nano))

	rndkey, err := kdscrypto.NewKey(kdscrypto.KeySize)
	if err != nil {
		return nil, kdserrors.NewCryptoError("encrypt", err)
	}

	sigKey, encKey, err := i.engine.DeriveSession(rndkey, info, len(rndkey))
	if err != nil {
		return nil, err
	}

	esekPlain, err := json.Marshal(esekPayload{
		Key:       base64.StdEncoding.EncodeToString(rndkey),
		Timestamp: now.Format(time.RFC3339Nano),
		TTL:       int64(i.ttl.Seconds()),
	})
	if err != nil {
		return nil, kdserrors.NewCryptoError("encrypt", err)
	}

	esek, err := i.engine.Encrypt(destKey.Plaintext, esekPlain)
	if err != nil {
		return nil, err
	}

	ticketPlain, err := json.Marshal(ticketPayload{
		SKey: base64.StdEncoding.EncodeToString(sigKey),
		EKey: base64.StdEncoding.EncodeToString(encKey),
		Esek: esek,
	})
	if err != nil {
		return nil, kdserrors.NewCryptoError("encrypt", err)
	}

	ticketOut, err := i.engine.Encrypt(vr.SourceKey.Plaintext, ticketPlain)
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

	signInput := append([]byte(metadataOut), []byte(ticketOut)...)
	signatureOut := i.engine.Sign(vr.SourceKey.Plaintext, signInput)

	i.log.Info("issued ticket",
		logger.String("source", vr.Source.Name),
		logger.String("destination", vr.Destination.Name))
	metrics.TicketsIssued.Inc()

	return &Response{
		Metadata:  metadataOut,
		Signature: base64.StdEncoding.EncodeToString(signatureOut),
		Ticket:    ticketOut,
	}, nil
}

func keyStr(name string, generation uint64) string {
	return fmt.Sprintf("%s:%d", name, generation)
}
