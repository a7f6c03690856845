// Package message is the line-delimited JSON protocol of the echo example.
package message

import (
	"encoding/json"
	"io"

	"github.com/go-pantheon/fabrica-util/errors"
)

type Echo struct {
	Seq  int32  `json:"seq"`
	Data []byte `json:"data"`
}

func NewEcho(seq int32, data []byte) *Echo {
	return &Echo{Seq: seq, Data: data}
}

type Codec struct {
	enc *json.Encoder
	dec *json.Decoder
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		enc: json.NewEncoder(rw),
		dec: json.NewDecoder(rw),
	}
}

func (c *Codec) Encode(m *Echo) error {
	if err := c.enc.Encode(m); err != nil {
		return errors.Wrapf(err, "encode failed. seq=%d", m.Seq)
	}

	return nil
}

// Decode returns io.EOF once the peer ended the stream between messages.
func (c *Codec) Decode() (*Echo, error) {
	m := &Echo{}

	if err := c.dec.Decode(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, errors.Wrapf(err, "decode failed")
	}

	return m, nil
}
