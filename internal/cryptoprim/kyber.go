package cryptoprim

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// kyberScheme resolves circl's generic KEM scheme interface to Kyber768,
// the post-quantum encapsulation mechanism every output's KEM ciphertext
// field is sized to.
func kyberScheme() kem.Scheme {
	return kyber768.Scheme()
}
