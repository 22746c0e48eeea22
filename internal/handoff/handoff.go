// Package handoff reads the one-shot referral payload a patient registry
// passes when it opens a follow-up consultation.
package handoff

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"teleconsult/internal/consultation"
)

// maxDecodeRounds bounds how many URL-decoding passes Decode attempts.
const maxDecodeRounds = 5

var ErrDecode = errors.New("handoff: cannot decode payload")

type Payload struct {
	PatientID              string                    `json:"patientId"`
	Patient                consultation.Demographics `json:"patient"`
	PreviousConsultationID *uuid.UUID                `json:"previousConsultationId,omitempty"`
	Source                 string                    `json:"source,omitempty"`
}

// Encode renders p in the negotiated form: base64url of its JSON, no padding.
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("handoff: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode accepts the base64url form produced by Encode. Referrers that still
// pass raw JSON in a URL parameter are handled by URL-decoding up to
// maxDecodeRounds times until a JSON object parses; anything after the last
// closing brace is ignored.
func Decode(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Payload{}, fmt.Errorf("%w: empty", ErrDecode)
	}

	if p, ok := fromBase64(s); ok {
		return p, nil
	}

	cur := s
	for round := 0; round <= maxDecodeRounds; round++ {
		if p, err := parse(cur); err == nil {
			return p, nil
		}
		next, err := url.QueryUnescape(cur)
		if err != nil || next == cur {
			break
		}
		cur = next
	}
	return Payload{}, fmt.Errorf("%w: no JSON object after %d decoding rounds", ErrDecode, maxDecodeRounds)
}

func fromBase64(s string) (Payload, bool) {
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding} {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if p, err := parse(string(raw)); err == nil {
			return p, true
		}
	}
	return Payload{}, false
}

func parse(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return Payload{}, ErrDecode
	}
	end := strings.LastIndexByte(s, '}')
	if end < 0 {
		return Payload{}, ErrDecode
	}
	var p Payload
	if err := json.Unmarshal([]byte(s[:end+1]), &p); err != nil {
		return Payload{}, err
	}
	if p.PatientID == "" && p.Patient.FullName() == "" {
		return Payload{}, fmt.Errorf("%w: no patient", ErrDecode)
	}
	return p, nil
}
