package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the raw json object the portal returned for a single assignment score, it is stored
// as is and replaced wholesale on every sync.
type Payload json.RawMessage

const (
	payloadScoreId          = "score_id"
	payloadIsProblem        = "is_problem"
	payloadCompletionStatus = "completion_status"
	payloadDescription      = "assignment_description"
)

func (p Payload) fields() map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(p, &fields)
	if err != nil {
		return nil
	}
	return fields
}

// scalarString renders a json string, number or boolean as a plain string. Anything else, including
// null and absent values, is reported as not ok.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		if err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		var b bool
		err := json.Unmarshal(raw, &b)
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case 'n', '{', '[':
		return "", false
	default:
		var n json.Number
		err := json.Unmarshal(raw, &n)
		if err != nil {
			return "", false
		}
		return n.String(), true
	}
}

func (p Payload) String(field string) string {
	value, _ := scalarString(p.fields()[field])
	return value
}

// ScoreId is the portal's id of the score, empty when absent.
func (p Payload) ScoreId() string {
	return p.String(payloadScoreId)
}

// IsProblem reports whether the portal flagged the assignment as a problem. true, any non-zero
// number and the strings "1", "true" and "yes" count as set.
func (p Payload) IsProblem() bool {
	value, ok := scalarString(p.fields()[payloadIsProblem])
	if !ok {
		return false
	}
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "0", "false", "no":
		return false
	case "true", "yes":
		return true
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	return n != 0
}

func (p Payload) CompletionStatus() string {
	return p.String(payloadCompletionStatus)
}

func (p Payload) Description() string {
	return p.String(payloadDescription)
}

func parsePayload(raw json.RawMessage) (Payload, error) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(raw, &fields)
	if err != nil {
		return nil, fmt.Errorf("%w: assignment is not an object: %s", ErrDecode, err.Error())
	}
	id, ok := scalarString(fields[payloadScoreId])
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: assignment without %s", ErrDecode, payloadScoreId)
	}
	return Payload(bytes.TrimSpace(raw)), nil
}
