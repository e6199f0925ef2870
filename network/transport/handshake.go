package transport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/linchenxuan/slingshot/network/frame"
	"golang.org/x/crypto/hkdf"
)

const _sessionKeyInfo = "slingshot session key"

// handshake runs the opening exchange under the handshake deadline:
//
//	client                         server
//	Hello  ---------------------->
//	       <----------------------  Hello   (or Reject on app mismatch)
//	Auth   ---------------------->          (passcode only)
//	       <----------------------  Auth    (passcode only)
//	       <----------------------  Accept | Reject
func (c *Conn) handshake() error {
	nc := c.netConn()
	if nc == nil {
		return ErrConnClosed
	}
	if err := nc.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return err
	}

	local := hello{Player: c.opts.Local, AppID: c.opts.AppID, Secured: c.opts.Passcode != ""}
	if _, err := io.ReadFull(rand.Reader, local.Nonce[:]); err != nil {
		return fmt.Errorf("handshake nonce: %w", err)
	}

	var err error
	if c.role == RoleClient {
		err = c.clientHandshake(&local)
	} else {
		err = c.serverHandshake(&local)
	}
	if err != nil {
		return err
	}
	return nc.SetDeadline(time.Time{})
}

// clientHandshake sends its hello first and learns the remote identity only once the server
// accepts.
func (c *Conn) clientHandshake(local *hello) error {
	if err := c.sendHello(local); err != nil {
		return err
	}
	remote, err := c.readHello()
	if err != nil {
		return err
	}
	if err := c.checkHello(local, remote); err != nil {
		return err
	}
	if local.Secured {
		key, err := sessionKey(c.opts.Passcode, c.opts.Service, local.Nonce, remote.Nonce)
		if err != nil {
			return err
		}
		if err := c.writeNow(frame.Auth, proof(key, RoleClient)); err != nil {
			return err
		}
		if err := c.readProof(key, RoleServer); err != nil {
			return err
		}
	}

	// Admission is decided last, after the server knows the client is authentic.
	f, err := c.readFrame(false)
	if err != nil {
		return err
	}
	switch f.typ {
	case frame.Accept:
		c.remote.Store(&remote.Player)
		return nil
	case frame.Reject:
		reason, _ := unmarshalReject(f.payload)
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return fmt.Errorf("%w: expected accept, got %s", ErrProtocol, f.typ)
}

// serverHandshake answers a client hello. Every failure after the hello is read is reported to
// the client with a Reject before the connection closes.
func (c *Conn) serverHandshake(local *hello) error {
	remote, err := c.readHello()
	if err != nil {
		return err
	}
	if err := c.checkHello(local, remote); err != nil {
		c.reject(err.Error())
		return err
	}
	if err := c.sendHello(local); err != nil {
		return err
	}
	if local.Secured {
		key, err := sessionKey(c.opts.Passcode, c.opts.Service, remote.Nonce, local.Nonce)
		if err != nil {
			return err
		}
		if err := c.readProof(key, RoleClient); err != nil {
			c.reject("authentication failed")
			return err
		}
		if err := c.writeNow(frame.Auth, proof(key, RoleServer)); err != nil {
			return err
		}
	}

	if c.opts.Admit != nil {
		if err := c.opts.Admit(remote.Player); err != nil {
			c.reject(err.Error())
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	// Remote stays zero until here, so the session only ever sees admitted players.
	c.remote.Store(&remote.Player)
	return c.writeNow(frame.Accept, nil)
}

// sendHello writes h, bypassing the send queue.
func (c *Conn) sendHello(h *hello) error {
	payload, err := h.marshal()
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	return c.writeNow(frame.Hello, payload)
}

// readHello reads the peer's hello. A Reject in its place fails the handshake with ErrRejected.
func (c *Conn) readHello() (*hello, error) {
	f, err := c.readFrame(false)
	if err != nil {
		return nil, err
	}
	switch f.typ {
	case frame.Hello:
		h := &hello{}
		if err := h.unmarshal(f.payload); err != nil {
			return nil, fmt.Errorf("%w: decode hello: %v", ErrProtocol, err)
		}
		return h, nil
	case frame.Reject:
		reason, _ := unmarshalReject(f.payload)
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return nil, fmt.Errorf("%w: expected hello, got %s", ErrProtocol, f.typ)
}

// checkHello compares the remote hello with the local one. Both sides run it.
func (c *Conn) checkHello(local, remote *hello) error {
	// The nil id is never a valid participant and would alias across peers.
	if remote.Player.IsZero() {
		return fmt.Errorf("%w: hello without a player id", ErrProtocol)
	}
	if remote.AppID != local.AppID {
		return fmt.Errorf("%w: app identifier %q, want %q", ErrAuthFailed, remote.AppID, local.AppID)
	}
	if remote.Secured != local.Secured {
		return fmt.Errorf("%w: passcode required by one side only", ErrAuthFailed)
	}
	return nil
}

// readProof reads the Auth frame of the other side and checks it against the proof expected
// for role. Comparison is constant-time.
func (c *Conn) readProof(key []byte, role Role) error {
	f, err := c.readFrame(false)
	if err != nil {
		return err
	}
	if f.typ == frame.Reject {
		reason, _ := unmarshalReject(f.payload)
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	if f.typ != frame.Auth {
		return fmt.Errorf("%w: expected auth, got %s", ErrProtocol, f.typ)
	}
	if !hmac.Equal(f.payload, proof(key, role)) {
		return fmt.Errorf("%w: passcode proof mismatch", ErrAuthFailed)
	}
	return nil
}

// reject tells the client why it is turned away. Write errors do not matter at this point.
func (c *Conn) reject(reason string) {
	payload, err := marshalReject(reason)
	if err != nil {
		payload, _ = marshalReject("rejected")
	}
	_ = c.writeNow(frame.Reject, payload)
}

// presharedKey binds a passcode to one service type.
func presharedKey(passcode, service string) []byte {
	mac := hmac.New(sha256.New, []byte(passcode))
	mac.Write([]byte(service))
	return mac.Sum(nil)
}

// sessionKey derives a per-connection key from the passcode and both nonces.
func sessionKey(passcode, service string, clientNonce, serverNonce [_nonceSize]byte) ([]byte, error) {
	salt := make([]byte, 0, 2*_nonceSize)
	salt = append(salt, clientNonce[:]...)
	salt = append(salt, serverNonce[:]...)
	r := hkdf.New(sha256.New, presharedKey(passcode, service), salt, []byte(_sessionKeyInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// proof is the HMAC of the role name under the session key. Client and server proofs differ,
// so a server cannot echo the client's proof back.
func proof(key []byte, role Role) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(role.String()))
	return mac.Sum(nil)
}
