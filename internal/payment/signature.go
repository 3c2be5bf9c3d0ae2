package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zapis/internal/domain"
)

const SignatureHeader = "X-Zapis-Signature"

// Verifier checks webhook signatures of the form "t=<unix>,v1=<hex>", where the
// MAC is HMAC-SHA256 over "<t>.<raw body>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign builds a header value for body at ts.
func (v *Verifier) Sign(body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(v.mac(t, body))
}

// Verify checks header against the exact bytes of body.
func (v *Verifier) Verify(header string, body []byte) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", domain.ErrInvalidSignature)
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
		}
	}

	expected := v.mac(ts, body)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", domain.ErrInvalidSignature)
}

func (v *Verifier) mac(ts string, body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}
