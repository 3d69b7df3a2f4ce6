package secio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/twofish"
)

// keySize returns the symmetric key length, in bytes, for a chosen cipher.
func keySize(c Cipher) (int, error) {
	switch c {
	case CipherAES128:
		return 16, nil
	case CipherAES256:
		return 32, nil
	case CipherTwofishCTR:
		return 32, nil
	default:
		return 0, fmt.Errorf("secio: unknown cipher %q", c)
	}
}

// ivSize is fixed at the block size for every cipher this package supports
// (AES and Twofish are both 16-byte-block ciphers run in CTR mode).
const ivSize = 16

// macSize is the HMAC output length, fixed per chosen digest.
func macSize(d Digest) (int, error) {
	switch d {
	case DigestSHA256:
		return sha256.Size, nil
	case DigestSHA512:
		return sha512.Size, nil
	default:
		return 0, fmt.Errorf("secio: unknown digest %q", d)
	}
}

func newHashFunc(d Digest) (func() hash.Hash, error) {
	switch d {
	case DigestSHA256:
		return sha256.New, nil
	case DigestSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("secio: unknown digest %q", d)
	}
}

// keySet is one side's derived (iv, key, mac-key) bundle.
type keySet struct {
	IV     []byte
	Key    []byte
	MacKey []byte
}

// deriveKeys expands sharedSecret via HKDF into the two sides' key bundles,
// in the fixed order (iv_A, key_A, mac_A, iv_B, key_B, mac_B) spec.md §6
// describes. Which side sends with A versus B is decided by hashesOrdering,
// not by dial direction (spec.md §4.2): the side whose ordering is Less
// sends with A and receives with B, the other side inverts.
func deriveKeys(digest Digest, sharedSecret []byte, cipherSuite Cipher) (a, b keySet, err error) {
	newHash, err := newHashFunc(digest)
	if err != nil {
		return keySet{}, keySet{}, err
	}
	kSize, err := keySize(cipherSuite)
	if err != nil {
		return keySet{}, keySet{}, err
	}
	mSize, err := macSize(digest)
	if err != nil {
		return keySet{}, keySet{}, err
	}

	total := 2 * (ivSize + kSize + mSize)
	r := hkdf.New(newHash, sharedSecret, nil, []byte("key expansion"))
	buf := make([]byte, total)
	if _, err := io.ReadFull(r, buf); err != nil {
		return keySet{}, keySet{}, err
	}

	half := total / 2
	a = splitKeySet(buf[:half], ivSize, kSize, mSize)
	b = splitKeySet(buf[half:], ivSize, kSize, mSize)
	return a, b, nil
}

func splitKeySet(buf []byte, ivSize, kSize, mSize int) keySet {
	return keySet{
		IV:     buf[:ivSize],
		Key:    buf[ivSize : ivSize+kSize],
		MacKey: buf[ivSize+kSize : ivSize+kSize+mSize],
	}
}

// newStreamCipher builds the CTR-mode stream for the chosen cipher suite.
func newStreamCipher(c Cipher, key, iv []byte) (cipher.Stream, error) {
	var block cipher.Block
	var err error
	switch c {
	case CipherAES128, CipherAES256:
		block, err = aes.NewCipher(key)
	case CipherTwofishCTR:
		block, err = twofish.NewCipher(key)
	default:
		return nil, fmt.Errorf("secio: unknown cipher %q", c)
	}
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}
