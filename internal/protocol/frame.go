package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the length of the symmetric key exchanged during the handshake.
	KeySize = 16

	// lengthPrefixSize is the size of the big-endian payload length that both
	// the frame header and the inner plaintext carry.
	lengthPrefixSize = 4

	// maxFrameSize bounds how much ciphertext a single frame may carry. Mod
	// listings can embed logo images so this is generous, but it still keeps a
	// garbage length prefix from allocating the world.
	maxFrameSize = 1 << 28
)

var errShortPayload = errors.New("payload shorter than its length prefix")

// Conn exchanges encrypted frames over an established, key-agreed stream.
// A frame is IV(16) || length(4, big-endian) || ciphertext. The ciphertext
// decrypts (AES-128-CBC) to a length-prefixed JSON document padded with zero
// bytes up to the cipher's block size; the inner prefix, never the padding,
// determines the true payload boundary.
type Conn struct {
	rw    io.ReadWriter
	block cipher.Block
}

// NewConn wraps rw with the symmetric key produced by the handshake.
func NewConn(rw io.ReadWriter, key []byte) (*Conn, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("symmetric key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	return &Conn{rw: rw, block: block}, nil
}

// Send serializes v and writes it as one encrypted frame.
func (c *Conn) Send(v any) error {
	plaintext, err := encodePayload(v)
	if err != nil {
		return err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, plaintext)

	header := make([]byte, 0, aes.BlockSize+lengthPrefixSize)
	header = append(header, iv...)
	header = binary.BigEndian.AppendUint32(header, uint32(len(ciphertext)))

	if _, err := c.rw.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := c.rw.Write(ciphertext); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// Recv reads one encrypted frame and deserializes it into v.
func (c *Conn) Recv(v any) error {
	header := make([]byte, aes.BlockSize+lengthPrefixSize)
	if _, err := io.ReadFull(c.rw, header); err != nil {
		return fmt.Errorf("reading frame header: %w", err)
	}

	iv := header[:aes.BlockSize]
	length := binary.BigEndian.Uint32(header[aes.BlockSize:])
	if length == 0 || length > maxFrameSize || length%aes.BlockSize != 0 {
		return fmt.Errorf("malformed frame length %d", length)
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(c.rw, ciphertext); err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}

	plaintext := make([]byte, length)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	return decodePayload(plaintext, v)
}

// encodePayload produces the plaintext for one frame: a 4-byte big-endian
// length of the JSON document, the document itself, and trailing zero bytes
// up to the next block boundary.
func encodePayload(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	buf := make([]byte, 0, lengthPrefixSize+len(body)+aes.BlockSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)

	if rem := len(buf) % aes.BlockSize; rem != 0 {
		buf = append(buf, make([]byte, aes.BlockSize-rem)...)
	}
	return buf, nil
}

func decodePayload(plaintext []byte, v any) error {
	if len(plaintext) < lengthPrefixSize {
		return errShortPayload
	}
	length := binary.BigEndian.Uint32(plaintext)
	if int(length) > len(plaintext)-lengthPrefixSize {
		return errShortPayload
	}

	body := plaintext[lengthPrefixSize : lengthPrefixSize+length]
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
