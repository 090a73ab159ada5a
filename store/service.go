package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ServiceKind names a credential service attached to a user. The engine ships
// three kinds; additional ones (OAuth providers, magic links) register their
// payload type through [RegisterKind] so adapters can decode them.
type ServiceKind string

const (
	// KindPassword holds the user's password hash.
	KindPassword ServiceKind = "password"
	// KindPasswordReset holds a pending single-use password reset token.
	KindPasswordReset ServiceKind = "password.reset"
	// KindEmailVerification holds a pending single-use email verification
	// token.
	KindEmailVerification ServiceKind = "email.verificationTokens"
)

// Options is the typed payload carried by a service record. Each kind has its
// own concrete type; implementations are value types and treated as immutable
// once stored.
type Options interface {
	ServiceKind() ServiceKind
}

// PasswordOptions is the payload of KindPassword.
type PasswordOptions struct {
	// Hash is the encoded password hash (bcrypt or argon2id PHC string).
	Hash string `json:"bcrypt"`
}

// ServiceKind implements [Options].
func (PasswordOptions) ServiceKind() ServiceKind { return KindPassword }

// ResetOptions is the payload of KindPasswordReset. The token itself lives on
// the record, not the payload.
type ResetOptions struct {
	Address string    `json:"address"`
	When    time.Time `json:"when"`
	Reason  string    `json:"reason,omitempty"`
}

// ServiceKind implements [Options].
func (ResetOptions) ServiceKind() ServiceKind { return KindPasswordReset }

// VerificationOptions is the payload of KindEmailVerification.
type VerificationOptions struct {
	Address string    `json:"address"`
	When    time.Time `json:"when"`
}

// ServiceKind implements [Options].
func (VerificationOptions) ServiceKind() ServiceKind { return KindEmailVerification }

// ServiceRecord is one named credential entry on a user. Invariant: at most
// one record per (user, kind); reset and verification tokens are single-use
// and removed after consumption.
type ServiceRecord struct {
	Kind ServiceKind
	// Options is the kind-specific payload. Its dynamic type must match the
	// registered type for Kind.
	Options Options
	// Token is the optional single-use secret bound to the record.
	Token string
	// ServiceID is the optional external identifier (e.g. OAuth subject).
	ServiceID string
}

// OptionsDecoder turns a persisted payload back into its typed form.
type OptionsDecoder func(data []byte) (Options, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[ServiceKind]OptionsDecoder{
		KindPasswordReset: func(data []byte) (Options, error) {
			var o ResetOptions
			err := json.Unmarshal(data, &o)
			return o, err
		},
		KindEmailVerification: func(data []byte) (Options, error) {
			var o VerificationOptions
			err := json.Unmarshal(data, &o)
			return o, err
		},
		KindPassword: func(data []byte) (Options, error) {
			var o PasswordOptions
			err := json.Unmarshal(data, &o)
			return o, err
		},
	}
)

// RegisterKind registers a payload decoder for a service kind so store
// adapters can decode persisted records of kinds this package does not know
// about. Registering an already known kind replaces the previous decoder.
func RegisterKind(kind ServiceKind, decode OptionsDecoder) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = decode
}

// DecodeOptions decodes a persisted payload for the kind through the
// registry. It fails for kinds that were never registered.
func DecodeOptions(kind ServiceKind, data []byte) (Options, error) {
	kindsMu.RLock()
	decode, ok := kinds[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unregistered service kind %q", kind)
	}
	return decode(data)
}

type serviceRecordJSON struct {
	Kind      ServiceKind     `json:"name"`
	Options   json.RawMessage `json:"options,omitempty"`
	Token     string          `json:"token,omitempty"`
	ServiceID string          `json:"serviceId,omitempty"`
}

// MarshalJSON encodes the record with its kind tag so UnmarshalJSON can pick
// the right payload type.
func (r ServiceRecord) MarshalJSON() ([]byte, error) {
	out := serviceRecordJSON{
		Kind:      r.Kind,
		Token:     r.Token,
		ServiceID: r.ServiceID,
	}
	if r.Options != nil {
		raw, err := json.Marshal(r.Options)
		if err != nil {
			return nil, err
		}
		out.Options = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the record, resolving the payload type through the
// kind registry.
func (r *ServiceRecord) UnmarshalJSON(data []byte) error {
	var in serviceRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	r.Kind = in.Kind
	r.Token = in.Token
	r.ServiceID = in.ServiceID
	r.Options = nil

	if len(in.Options) == 0 {
		return nil
	}

	opts, err := DecodeOptions(in.Kind, in.Options)
	if err != nil {
		return err
	}
	r.Options = opts
	return nil
}
