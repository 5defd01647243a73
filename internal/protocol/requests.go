package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://cubeyard.io/schemas/"

// requestTypes lists every inbound event. Types without a schema carry no payload.
var requestTypes = map[string]struct{}{
	TypeUpdate:          {},
	TypeSendMessage:     {},
	TypeUpdateColor:     {},
	TypeUpdateUsername:  {},
	TypeUpdateAnimation: {},
	TypePlaceBlock:      {},
	TypeRemoveBlock:     {},
	TypeAdminAuth:       {},
	TypeAdminMove:       {},
	TypeAdminMessage:    {},
	TypeResetWorld:      {},
	TypeResetChat:       {},
	TypeResetPlayers:    {},
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		schemas, schemasErr = compileSchemas()
	})
	return schemas, schemasErr
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		out[strings.TrimSuffix(name, ".schema.json")] = s
	}
	return out, nil
}

// DecodeError explains why an inbound frame was refused at the boundary.
type DecodeError struct {
	Type string
	Code string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Code, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidatePayload checks data against the schema registered for typ.
func ValidatePayload(typ string, data json.RawMessage) error {
	if _, ok := requestTypes[typ]; !ok {
		return &DecodeError{Type: typ, Code: ErrProtoUnknown, Err: fmt.Errorf("unknown event type")}
	}
	all, err := compiledSchemas()
	if err != nil {
		return &DecodeError{Type: typ, Code: ErrInternal, Err: err}
	}
	s, ok := all[typ]
	if !ok {
		return nil
	}
	var v any
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return &DecodeError{Type: typ, Code: ErrProtoBadRequest, Err: err}
		}
	}
	if err := s.Validate(v); err != nil {
		return &DecodeError{Type: typ, Code: ErrProtoBadRequest, Err: err}
	}
	return nil
}

// DecodeRequest validates one inbound frame and decodes it into its typed request.
func DecodeRequest(b []byte) (Request, error) {
	env, err := DecodeBase(b)
	if err != nil {
		return nil, &DecodeError{Code: ErrProtoBadRequest, Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Code: ErrProtoBadRequest, Err: fmt.Errorf("missing type")}
	}
	if err := ValidatePayload(env.Type, env.Data); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeUpdate:
		var r UpdateReq
		return decodeInto(env, &r, &r)
	case TypeSendMessage:
		var r SendMessageReq
		return decodeInto(env, &r, &r)
	case TypeUpdateColor:
		var r UpdateColorReq
		return decodeInto(env, &r, &r)
	case TypeUpdateAnimation:
		var r UpdateAnimationReq
		return decodeInto(env, &r, &r)
	case TypeAdminMove:
		var r AdminMoveReq
		return decodeInto(env, &r, &r)
	case TypePlaceBlock:
		var r PlaceBlockReq
		return decodeInto(env, &r.Payload, &r)
	case TypeUpdateUsername:
		var r UpdateUsernameReq
		return decodeInto(env, &r.Username, &r)
	case TypeRemoveBlock:
		var r RemoveBlockReq
		return decodeInto(env, &r.ID, &r)
	case TypeAdminAuth:
		var r AdminAuthReq
		return decodeInto(env, &r.Credential, &r)
	case TypeAdminMessage:
		var r AdminMessageReq
		return decodeInto(env, &r.Text, &r)
	case TypeResetWorld:
		return ResetWorldReq{}, nil
	case TypeResetChat:
		return ResetChatReq{}, nil
	case TypeResetPlayers:
		return ResetPlayersReq{}, nil
	default:
		return nil, &DecodeError{Type: env.Type, Code: ErrProtoUnknown, Err: fmt.Errorf("no decoder for event type")}
	}
}

// decodeInto unmarshals the payload into dst and returns the request that owns it by value.
func decodeInto[T Request](env Envelope, dst any, req *T) (Request, error) {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return nil, &DecodeError{Type: env.Type, Code: ErrProtoBadRequest, Err: err}
	}
	return *req, nil
}
