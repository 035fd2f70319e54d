package protocol

import (
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrWrongCredentials is returned by Login when the host rejects the
// username/password combination.
var ErrWrongCredentials = errors.New("wrong credentials")

// HashPassword computes the 32-byte digest carried in a LoginRequest.
func HashPassword(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

// Client is the connecting side of the protocol. One Client performs one
// handshake, one login exchange, and one command exchange, then closes.
type Client struct {
	conn io.Closer
	fc   *Conn
}

// Dial connects to a warden host and completes the key exchange.
func Dial(addr string, hostKey *rsa.PublicKey) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	fc, err := Connect(conn, hostKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{conn: conn, fc: fc}, nil
}

// NewClient completes the key exchange over an existing stream. Used by tests
// that drive a session over an in-memory pipe.
func NewClient(rw io.ReadWriter, hostKey *rsa.PublicKey) (*Client, error) {
	fc, err := Connect(rw, hostKey)
	if err != nil {
		return nil, err
	}
	c := &Client{fc: fc}
	if closer, ok := rw.(io.Closer); ok {
		c.conn = closer
	}
	return c, nil
}

// Login performs the credential exchange. It must be called exactly once,
// before Send.
func (c *Client) Login(username, password string) error {
	req := LoginRequest{Username: username, PasswordHash: HashPassword(password)}
	if err := c.fc.Send(req); err != nil {
		return err
	}

	var resp LoginResponse
	if err := c.fc.Recv(&resp); err != nil {
		return err
	}
	if resp.Result != LoginOk {
		return ErrWrongCredentials
	}
	return nil
}

// Send issues the connection's single command and returns the host's response.
func (c *Client) Send(cmd NetCommand) (Response, error) {
	if err := c.fc.Send(cmd); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := c.fc.Recv(&resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
