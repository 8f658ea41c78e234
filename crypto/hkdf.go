package crypto

import (
	"crypto/hmac"
	"hash"
)

// hkdfExpand implements the RFC 5869 Expand step only: the KDS always
// starts from an already-uniform key (a random master key, or a random
// session seed), so there is no Extract stage to run.
func hkdfExpand(newHash func() hash.Hash, key []byte, info string, outLen int) []byte {
	h := hmac.New(newHash, key)
	out := make([]byte, 0, outLen+h.Size())
	var prev []byte

	for counter := byte(1); len(out) < outLen; counter++ {
		h.Reset()
		h.Write(prev)
		h.Write([]byte(info))
		h.Write([]byte{counter})
		prev = h.Sum(nil)
		out = append(out, prev...)
	}

	return out[:outLen]
}
