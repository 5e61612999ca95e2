package radius

import (
	"crypto/hmac"
	"crypto/md5"
	"fmt"

	layeh "layeh.com/radius"
	"layeh.com/radius/rfc2869"
)

// encodeRequest signs p with a Message-Authenticator when it is an
// Access-Request or already carries one, then encodes it. For every request
// code other than Access-Request the HMAC is taken over a zeroed request
// authenticator, which layeh's Encode then fills in.
func encodeRequest(p *Packet) ([]byte, error) {
	_, hasMA := p.Lookup(rfc2869.MessageAuthenticator_Type)
	if p.Code == CodeAccessRequest || hasMA {
		if err := rfc2869.MessageAuthenticator_Set(p, make([]byte, AuthLen)); err != nil {
			return nil, err
		}

		unsigned := *p
		if p.Code != CodeAccessRequest {
			unsigned.Authenticator = [AuthLen]byte{}
		}
		b, err := unsigned.MarshalBinary()
		if err != nil {
			return nil, err
		}
		mac := hmac.New(md5.New, p.Secret)
		mac.Write(b)
		if err := rfc2869.MessageAuthenticator_Set(p, mac.Sum(nil)); err != nil {
			return nil, err
		}
	}
	return p.Encode()
}

// decodeResponse parses raw and checks it against the encoded request it
// answers.
func decodeResponse(raw, req, secret []byte) (*Packet, error) {
	resp, err := layeh.Parse(raw, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !layeh.IsAuthenticResponse(raw, req, secret) {
		return nil, ErrBadAuthenticator
	}

	got, ok := resp.Lookup(rfc2869.MessageAuthenticator_Type)
	if !ok {
		return resp, nil
	}
	if len(got) != AuthLen {
		return nil, ErrBadMessageAuth
	}

	check := *resp
	check.Attributes = append(layeh.Attributes(nil), resp.Attributes...)
	copy(check.Authenticator[:], req[4:20])
	if err := rfc2869.MessageAuthenticator_Set(&check, make([]byte, AuthLen)); err != nil {
		return nil, err
	}
	b, err := check.MarshalBinary()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(md5.New, secret)
	mac.Write(b)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return nil, ErrBadMessageAuth
	}
	return resp, nil
}
