package session

import (
	"bytes"

	"github.com/hyperbloom/engine/pkg/cryptoadapter"
	"github.com/hyperbloom/engine/pkg/protocol"
)

type parserState int

const (
	stateMagic parserState = iota
	stateOpenLength
	stateOpenBody
	statePaused
	stateMsgLength
	stateMsgBody
)

// frameSink receives decoded frames from the parser. Session is the
// only implementation; splitting it out as an interface keeps the
// byte-level state machine here free of any session-lifecycle logic.
type frameSink interface {
	handleOpen(o *protocol.Open) error
	handleFrame(kind protocol.MessageKind, payload []byte) error
}

// parser is the byte-driven frame state machine: Magic -> OpenLength ->
// OpenBody -> Paused -> MsgLength -> MsgBody -> MsgLength -> ... It
// performs no I/O and holds no goroutines; Write is the only entry
// point a caller drives.
type parser struct {
	state   parserState
	waiting int
	buf     []byte

	inKeystream       *cryptoadapter.Keystream
	pendingCiphertext []byte

	expectHandshakeFirst bool
	handshakeSeen        bool

	sink frameSink

	fatal *Error
}

func newParser(sink frameSink) *parser {
	return &parser{
		state:                stateMagic,
		expectHandshakeFirst: true,
		sink:                 sink,
	}
}

// Write ingests one inbound chunk of arbitrary size. If the inbound
// keystream is already installed, the chunk is XORed in place before
// buffering, since everything after the Open boundary is ciphertext. While
// Paused, chunks are appended raw to the pending-ciphertext capture
// instead, since the inbound key isn't known yet.
func (p *parser) Write(chunk []byte) error {
	if p.fatal != nil {
		return p.fatal
	}

	if p.state == statePaused {
		p.pendingCiphertext = append(p.pendingCiphertext, chunk...)
		if len(p.pendingCiphertext) > protocol.MaxFrameSize {
			return p.fail(newError(KindMessageTooBig, nil))
		}
		return nil
	}

	if p.inKeystream != nil {
		p.inKeystream.Xor(chunk)
	}
	p.buf = append(p.buf, chunk...)
	return p.run()
}

// Resume installs the inbound keystream, decrypts the ciphertext that
// arrived while paused, and re-enters the processing loop at
// MsgLength. It is called exactly once, by Session, after credentials
// and both nonces are known.
func (p *parser) Resume(inKeystream *cryptoadapter.Keystream) error {
	if p.fatal != nil {
		return p.fatal
	}
	p.inKeystream = inKeystream
	pending := p.pendingCiphertext
	p.pendingCiphertext = nil
	inKeystream.Xor(pending)
	p.buf = append(p.buf, pending...)
	p.state = stateMsgLength
	return p.run()
}

func (p *parser) fail(err *Error) *Error {
	p.fatal = err
	return err
}

// run advances through as many states as the buffered bytes allow,
// stopping (returning nil) as soon as a state needs more data than is
// currently buffered.
func (p *parser) run() error {
	for {
		switch p.state {
		case stateMagic:
			if len(p.buf) < 4 {
				return nil
			}
			if !bytes.Equal(p.buf[:4], protocol.Magic[:]) {
				return p.fail(newError(KindBadMagic, nil))
			}
			p.buf = p.buf[4:]
			p.state = stateOpenLength

		case stateOpenLength:
			v, n, err := tryConsumeVarint(p.buf)
			if err != nil {
				return p.fail(newError(KindVarintOverflow, err))
			}
			if n == 0 {
				return nil
			}
			if v > protocol.MaxFrameSize {
				return p.fail(newError(KindFrameTooLarge, nil))
			}
			p.waiting = int(v)
			p.buf = p.buf[n:]
			p.state = stateOpenBody

		case stateOpenBody:
			if len(p.buf) < p.waiting {
				return nil
			}
			body := p.buf[:p.waiting]
			rest := p.buf[p.waiting:]

			open, err := protocol.DecodeOpen(body)
			if err != nil {
				return p.fail(newError(KindMalformedMessage, err))
			}
			if len(open.Nonce) != protocol.NonceSize {
				return p.fail(newError(KindInvalidNonce, nil))
			}
			if len(open.Feed) != protocol.HashSize {
				return p.fail(newError(KindMalformedMessage, nil))
			}

			p.pendingCiphertext = append([]byte(nil), rest...)
			p.buf = nil
			p.state = statePaused

			if err := p.sink.handleOpen(open); err != nil {
				return p.fail(toSessionError(err))
			}
			return nil

		case statePaused:
			return nil

		case stateMsgLength:
			v, n, err := tryConsumeVarint(p.buf)
			if err != nil {
				return p.fail(newError(KindVarintOverflow, err))
			}
			if n == 0 {
				if len(p.buf) >= protocol.MaxFrameSize {
					return p.fail(newError(KindFrameTooLarge, nil))
				}
				return nil
			}
			if v > protocol.MaxFrameSize {
				return p.fail(newError(KindFrameTooLarge, nil))
			}
			p.waiting = int(v)
			p.buf = p.buf[n:]
			p.state = stateMsgBody

		case stateMsgBody:
			if len(p.buf) < p.waiting {
				if len(p.buf) >= protocol.MaxFrameSize {
					return p.fail(newError(KindFrameTooLarge, nil))
				}
				return nil
			}
			body := p.buf[:p.waiting]
			p.buf = p.buf[p.waiting:]

			if err := p.dispatch(body); err != nil {
				return p.fail(toSessionError(err))
			}
			p.state = stateMsgLength
		}
	}
}

func (p *parser) dispatch(body []byte) error {
	id, n, err := protocol.ConsumeVarint(body)
	if err != nil {
		return newError(KindMalformedMessage, err)
	}
	payload := body[n:]

	if !protocol.KnownKind(id) {
		return nil // unknown ids are silently skipped, for forward compatibility
	}
	kind := protocol.MessageKind(id)

	if p.expectHandshakeFirst {
		p.expectHandshakeFirst = false
		if kind != protocol.KindHandshake {
			return newError(KindHandshakeExpected, nil)
		}
		p.handshakeSeen = true
	} else if kind == protocol.KindHandshake {
		return newError(KindDuplicateHandshake, nil)
	}

	return p.sink.handleFrame(kind, payload)
}

func toSessionError(err error) *Error {
	if se, ok := err.(*Error); ok {
		return se
	}
	return newError(KindMalformedMessage, err)
}

// tryConsumeVarint decodes a leading LEB128 varint the same way
// protocol.ConsumeVarint does, except it distinguishes "not enough
// bytes buffered yet" (n == 0, err == nil) from a genuine overflow;
// the parser must wait for more data in the former case, not fail.
func tryConsumeVarint(buf []byte) (uint64, int, error) {
	limit := buf
	if len(limit) > 5 {
		limit = limit[:5]
	}
	for _, b := range limit {
		if b&0x80 == 0 {
			v, n, err := protocol.ConsumeVarint(buf)
			return v, n, err
		}
	}
	if len(buf) >= 5 {
		return 0, 0, protocol.ErrVarintOverflow
	}
	return 0, 0, nil
}
