// Package crypto implements the KDS CryptoEngine: master-key-derived
// per-endpoint storage keys, AEAD wrap/unwrap of endpoint secrets, and
// HKDF-Expand session-key derivation for tickets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
)

// KeySize is the raw size, in bytes, of a generated symmetric key.
const KeySize = 16

// Engine derives per-endpoint storage keys from a master key and performs
// authenticated wrap/unwrap of endpoint secrets. It holds no process-wide
// state; callers construct one via New or LoadOrCreate and pass it to the
// components that need it.
type Engine struct {
	mkey     []byte
	enctype  string
	hashtype string
	log      logger.Logger
}

// New builds an Engine from an already-loaded master key. enctype and
// hashtype name the primitives: enctype must be "AES", and hashtype one of
// "SHA256" (also the choice for an empty string), "SHA384" or "SHA512".
// The master key is copied, so later changes to the caller's slice do not
// affect the Engine.
func New(mkey []byte, enctype, hashtype string, log logger.Logger) (*Engine, error) {
	if len(mkey) == 0 {
		return nil, kdserrors.NewCryptoError("no mkey", nil)
	}
	if _, err := newHasher(hashtype); err != nil {
		return nil, err
	}
	if enctype != "AES" {
		return nil, kdserrors.NewCryptoError("encrypt", fmt.Errorf("unsupported enctype %q", enctype))
	}
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Engine{mkey: append([]byte(nil), mkey...), enctype: enctype, hashtype: hashtype, log: log}, nil
}

// LoadOrCreate loads the master key from path, base64-decoded, creating a
// fresh random key at path if it does not yet exist. The file is created
// O_WRONLY|O_CREAT|O_EXCL at mode 0600 so a concurrent bootstrap race loses
// rather than silently overwriting an existing key.
func LoadOrCreate(path, enctype, hashtype string, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		mkey, decErr := base64.StdEncoding.DecodeString(string(data))
		if decErr != nil {
			return nil, kdserrors.NewCryptoError("no mkey", fmt.Errorf("master key file %s is not valid base64: %w", path, decErr))
		}
		log.Info("loaded master key", logger.String("path", path))
		return New(mkey, enctype, hashtype, log)
	}
	if !os.IsNotExist(err) {
		return nil, kdserrors.NewCryptoError("no mkey", fmt.Errorf("reading master key file %s: %w", path, err))
	}

	mkey, err := NewKey(KeySize)
	if err != nil {
		return nil, kdserrors.NewCryptoError("no mkey", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREAT|os.O_EXCL, 0600)
	if err != nil {
		return nil, kdserrors.NewCryptoError("no mkey", fmt.Errorf("creating master key file %s: %w", path, err))
	}
	defer f.Close()

	encoded := base64.StdEncoding.EncodeToString(mkey)
	if _, err := f.WriteString(encoded); err != nil {
		return nil, kdserrors.NewCryptoError("no mkey", fmt.Errorf("writing master key file %s: %w", path, err))
	}

	log.Info("created new master key", logger.String("path", path))
	return New(mkey, enctype, hashtype, log)
}

// NewKey returns size bytes of cryptographic-strength random data.
func NewKey(size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

func newHasher(hashtype string) (func() hash.Hash, error) {
	switch hashtype {
	case "SHA256", "":
		return sha256.New, nil
	case "SHA384":
		return sha512.New384, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, kdserrors.NewCryptoError("encrypt", fmt.Errorf("unsupported hashtype %q", hashtype))
	}
}

// storageKeys derives (skey, ekey) for name from the master key, following
// the same HKDF split convention as DeriveSession: low half signs, high
// half encrypts.
func (e *Engine) storageKeys(name string) (skey, ekey []byte, err error) {
	if len(e.mkey) == 0 {
		return nil, nil, kdserrors.NewCryptoError("no mkey", nil)
	}
	newHash, err := newHasher(e.hashtype)
	if err != nil {
		return nil, nil, err
	}
	out := hkdfExpand(newHash, e.mkey, name, 2*KeySize)
	return out[:KeySize], out[KeySize:], nil
}

// Wrap encrypts plaintext under keys derived from name, returning the
// ciphertext and a MAC over it.
func (e *Engine) Wrap(name string, plaintext []byte) (ciphertext, signature []byte, err error) {
	skey, ekey, err := e.storageKeys(name)
	if err != nil {
		return nil, nil, err
	}

	ciphertext, err = e.symEncrypt(ekey, plaintext)
	if err != nil {
		return nil, nil, kdserrors.NewCryptoError("encrypt", err)
	}

	signature = e.mac(skey, ciphertext)
	return ciphertext, signature, nil
}

// Unwrap verifies signature over ciphertext with a constant-time compare,
// then decrypts, using keys derived from name.
func (e *Engine) Unwrap(name string, ciphertext, signature []byte) ([]byte, error) {
	skey, ekey, err := e.storageKeys(name)
	if err != nil {
		return nil, err
	}

	expected := e.mac(skey, ciphertext)
	if !hmac.Equal(expected, signature) {
		return nil, kdserrors.NewCryptoError("signature", nil)
	}

	plaintext, err := e.symDecrypt(ekey, ciphertext)
	if err != nil {
		return nil, kdserrors.NewCryptoError("decrypt", err)
	}
	return plaintext, nil
}

// Sign computes a MAC over data under key.
func (e *Engine) Sign(key, data []byte) []byte {
	return e.mac(key, data)
}

// Verify checks mac over data under key using a constant-time compare.
func (e *Engine) Verify(key, data, mac []byte) bool {
	return hmac.Equal(e.mac(key, data), mac)
}

func (e *Engine) mac(key, data []byte) []byte {
	newHash, err := newHasher(e.hashtype)
	if err != nil {
		// validated at construction time; unreachable in practice
		newHash = sha256.New
	}
	h := hmac.New(newHash, key)
	h.Write(data)
	return h.Sum(nil)
}

// Encrypt is the base64-wire-form counterpart to symEncrypt, used when a
// transport boundary needs a printable ciphertext (e.g. the sealed esek
// envelope in a ticket response).
func (e *Engine) Encrypt(key, plaintext []byte) (string, error) {
	ciphertext, err := e.symEncrypt(key, plaintext)
	if err != nil {
		return "", kdserrors.NewCryptoError("encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt is the inverse of Encrypt.
func (e *Engine) Decrypt(key []byte, ciphertextB64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, kdserrors.NewCryptoError("decrypt", fmt.Errorf("invalid base64: %w", err))
	}
	plaintext, err := e.symDecrypt(key, ciphertext)
	if err != nil {
		return nil, kdserrors.NewCryptoError("decrypt", err)
	}
	return plaintext, nil
}

// symEncrypt applies AES-GCM directly to key; key is always an
// already-uniform HKDF output so there is no password-derivation step to
// run first (contrast the teacher's vault, which derives from a
// passphrase via PBKDF2).
func (e *Engine) symEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func (e *Engine) symDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// ConstantTimeCompare reports whether a and b are equal using a
// constant-time comparison, for signature checks outside the Engine
// itself (e.g. RequestValidator's metadata signature check).
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
