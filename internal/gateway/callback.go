package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedCallback = errors.New("malformed callback")

type ResultParameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

type Result struct {
	ResultType               int    `json:"ResultType"`
	ResultCode               *int   `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ConversationID           string `json:"ConversationID"`
	TransactionID            string `json:"TransactionID"`
	ResultParameters         *struct {
		ResultParameter []ResultParameter `json:"ResultParameter"`
	} `json:"ResultParameters,omitempty"`
}

// ResultEnvelope is the body the gateway posts to both callback URLs.
type ResultEnvelope struct {
	Result Result `json:"Result"`
}

// Params flattens ResultParameters into a map.
func (r Result) Params() map[string]any {
	out := map[string]any{}
	if r.ResultParameters == nil {
		return out
	}
	for _, p := range r.ResultParameters.ResultParameter {
		out[p.Key] = p.Value
	}
	return out
}

// ParseResult decodes a result callback. ConversationID and ResultCode are
// required.
func ParseResult(body []byte) (Result, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	r := env.Result
	if strings.TrimSpace(r.ConversationID) == "" {
		return Result{}, fmt.Errorf("%w: missing ConversationID", ErrMalformedCallback)
	}
	if r.ResultCode == nil {
		return Result{}, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	return r, nil
}

// ParseTimeout decodes a queue-timeout callback, which only has to carry the
// correlation id.
func ParseTimeout(body []byte) (Result, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if strings.TrimSpace(env.Result.ConversationID) == "" {
		return Result{}, fmt.Errorf("%w: missing ConversationID", ErrMalformedCallback)
	}
	return env.Result, nil
}
