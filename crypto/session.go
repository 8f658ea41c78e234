package crypto

import "github.com/sage-x-project/kds/internal/kdserrors"

// DeriveSession derives a pair of session keys from prk and info via
// HKDF-Expand, then splits the output in half. The split is a fixed
// tie-break, not a choice: the low half is always the signing key, the
// high half always the encryption key, because the esek consumer on the
// destination side recomputes this same split independently and must
// agree without negotiation.
func (e *Engine) DeriveSession(prk []byte, info string, size int) (sigKey, encKey []byte, err error) {
	if len(prk) == 0 {
		return nil, nil, kdserrors.NewCryptoError("no mkey", nil)
	}
	newHash, err := newHasher(e.hashtype)
	if err != nil {
		return nil, nil, err
	}
	out := hkdfExpand(newHash, prk, info, 2*size)
	return out[:size], out[size:], nil
}
