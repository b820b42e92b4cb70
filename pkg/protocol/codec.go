package protocol

import "google.golang.org/protobuf/encoding/protowire"

// EncodeFrame wraps an already-encoded message payload in the
// post-Open frame format: varint(len(idBytes)+len(payload)) |
// varint(id) | payload.
func EncodeFrame(kind MessageKind, payload []byte) []byte {
	idBytes := AppendVarint(nil, uint64(kind))
	body := make([]byte, 0, len(idBytes)+len(payload))
	body = append(body, idBytes...)
	body = append(body, payload...)
	frame := AppendVarint(nil, uint64(len(body)))
	return append(frame, body...)
}

// EncodeOpen wraps an Open payload in the magic-prefixed framing used
// for exactly one frame per direction.
func EncodeOpen(o *Open) []byte {
	payload := encodeOpenBody(o)
	frame := make([]byte, 0, 4+maxVarintBytes+len(payload))
	frame = append(frame, Magic[:]...)
	frame = AppendVarint(frame, uint64(len(payload)))
	return append(frame, payload...)
}

func encodeOpenBody(o *Open) []byte {
	var b []byte
	b = appendBytesField(b, 1, o.Feed)
	b = appendBytesField(b, 2, o.Nonce)
	return b
}

// DecodeOpen decodes an Open message body (the bytes following the
// magic and length prefix). It does not validate field lengths; the
// frame parser does that, since HashSize/NonceSize are framing
// concerns, not codec concerns.
func DecodeOpen(b []byte) (*Open, error) {
	o := &Open{}
	seenFeed, seenNonce := false, false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			o.Feed = v
			seenFeed = true
		case 2:
			o.Nonce = v
			seenNonce = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenFeed || !seenNonce {
		return nil, ErrMalformed
	}
	return o, nil
}

// EncodeHandshake, EncodeSync, ... encode a single message's payload
// (each function fixes its message's field numbers; doc.go lists the
// message ids). They never touch framing; callers pass the result to
// EncodeFrame.

func EncodeHandshake(h *Handshake) []byte {
	var b []byte
	b = appendBytesField(b, 1, h.ID)
	for _, ext := range h.Extensions {
		b = appendStringField(b, 2, ext)
	}
	b = appendBytesField(b, 3, h.Signature)
	for _, link := range h.Chain {
		b = appendBytesField(b, 4, link)
	}
	return b
}

func DecodeHandshake(b []byte) (*Handshake, error) {
	h := &Handshake{}
	seenID, seenSig := false, false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			h.ID = v
			seenID = true
		case 2:
			h.Extensions = append(h.Extensions, string(v))
		case 3:
			h.Signature = v
			seenSig = true
		case 4:
			h.Chain = append(h.Chain, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenID || !seenSig {
		return nil, ErrMalformed
	}
	if len(h.Chain) > MaxChainLength {
		return nil, ErrMalformed
	}
	return h, nil
}

func EncodeSync(s *Sync) []byte {
	var b []byte
	b = appendBytesField(b, 1, s.Filter)
	b = appendVarintField(b, 2, uint64(s.Size))
	b = appendVarintField(b, 3, uint64(s.N))
	b = appendVarintField(b, 4, uint64(s.Seed))
	if s.Limit != nil {
		b = appendVarintField(b, 5, uint64(*s.Limit))
	}
	if s.Range != nil {
		b = appendBytesField(b, 6, encodeRange(s.Range))
	}
	return b
}

func DecodeSync(b []byte) (*Sync, error) {
	s := &Sync{}
	seenFilter, seenSize, seenN, seenSeed := false, false, false, false
	var rangeBytes []byte
	haveRange := false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s.Filter = v
			seenFilter = true
		case 2:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			s.Size = uint32(n)
			seenSize = true
		case 3:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			s.N = uint32(n)
			seenN = true
		case 4:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			s.Seed = uint32(n)
			seenSeed = true
		case 5:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			limit := uint32(n)
			s.Limit = &limit
		case 6:
			rangeBytes = v
			haveRange = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenFilter || !seenSize || !seenN || !seenSeed {
		return nil, ErrMalformed
	}
	if haveRange {
		r, err := decodeRange(rangeBytes)
		if err != nil {
			return nil, err
		}
		s.Range = r
	}
	return s, nil
}

func encodeRange(r *Range) []byte {
	var b []byte
	b = appendBytesField(b, 1, r.Start)
	if r.End != nil {
		b = appendBytesField(b, 2, r.End)
	}
	return b
}

func decodeRange(b []byte) (*Range, error) {
	r := &Range{}
	seenStart := false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			r.Start = v
			seenStart = true
		case 2:
			r.End = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenStart {
		return nil, ErrMalformed
	}
	return r, nil
}

func EncodeFilterOptions(f *FilterOptions) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(f.Size))
	b = appendVarintField(b, 2, uint64(f.N))
	return b
}

func DecodeFilterOptions(b []byte) (*FilterOptions, error) {
	f := &FilterOptions{}
	seenSize, seenN := false, false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			f.Size = uint32(n)
			seenSize = true
		case 2:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			f.N = uint32(n)
			seenN = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenSize || !seenN {
		return nil, ErrMalformed
	}
	return f, nil
}

func EncodeData(d *Data) []byte {
	var b []byte
	for _, v := range d.Values {
		b = appendBytesField(b, 1, v)
	}
	return b
}

func DecodeData(b []byte) (*Data, error) {
	d := &Data{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			d.Values = append(d.Values, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func EncodeRequest(r *Request) []byte {
	var b []byte
	b = appendBytesField(b, 1, r.Start)
	if r.End != nil {
		b = appendBytesField(b, 2, r.End)
	}
	if r.Limit != nil {
		b = appendVarintField(b, 3, uint64(*r.Limit))
	}
	return b
}

func DecodeRequest(b []byte) (*Request, error) {
	r := &Request{}
	seenStart := false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			r.Start = v
			seenStart = true
		case 2:
			r.End = v
		case 3:
			n, err := consumeVarintValue(v)
			if err != nil {
				return err
			}
			limit := uint32(n)
			r.Limit = &limit
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seenStart {
		return nil, ErrMalformed
	}
	return r, nil
}

func EncodeLink(l *Link) []byte {
	return appendBytesField(nil, 1, l.Link)
}

func DecodeLink(b []byte) (*Link, error) {
	l := &Link{}
	seen := false
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			l.Link = v
			seen = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, ErrMalformed
	}
	return l, nil
}

// appendBytesField and appendVarintField append one tagged,
// length-delimited or varint field using protowire's primitives,
// exactly what protoc-gen-go's marshalers do under the hood, just
// driven by hand since HyperBloom's framing sits a layer above what
// generated code expects.
func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// forEachField walks every tagged field in a message body, handing
// bytes/string fields their raw value and varint fields their value
// re-encoded as a standalone varint buffer so callers can share one
// varint decoder. Fields of any other wire type are skipped via
// protowire.ConsumeFieldValue, and callers ignore field numbers they
// do not know, giving the forward compatibility protobuf3 promises.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrMalformed
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ErrMalformed
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ErrMalformed
			}
			if err := fn(num, typ, protowire.AppendVarint(nil, v)); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrMalformed
			}
			b = b[n:]
		}
	}
	return nil
}

func consumeVarintValue(b []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 || n != len(b) {
		return 0, ErrMalformed
	}
	return v, nil
}
