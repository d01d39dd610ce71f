package quiz

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResponseKind tags the shape of a submitted answer.
type ResponseKind string

const (
	KindSingleChoice ResponseKind = "single_choice"
	KindFreeText     ResponseKind = "free_text"
	KindItemList     ResponseKind = "item_list"
)

// Response is a submitted answer: SingleChoice(id) | FreeText(string) | ItemList([]string).
type Response struct {
	Kind  ResponseKind `json:"kind"`
	Value string       `json:"value,omitempty"`
	Items []string     `json:"items,omitempty"`
}

func SingleChoice(id string) Response {
	return Response{Kind: KindSingleChoice, Value: id}
}

func FreeText(text string) Response {
	return Response{Kind: KindFreeText, Value: text}
}

func ItemList(items []string) Response {
	cp := make([]string, len(items))
	copy(cp, items)
	return Response{Kind: KindItemList, Items: cp}
}

// Scalar returns the single value carried by the response; for item lists
// that is the first element.
func (r Response) Scalar() string {
	if r.Kind == KindItemList {
		if len(r.Items) == 0 {
			return ""
		}
		return r.Items[0]
	}
	return r.Value
}

// DecodeResponse resolves a raw JSON answer (string, bool, number or array of
// strings) into the Response variant matching the question type.
func DecodeResponse(t QuestionType, raw json.RawMessage) (Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Response{}, fmt.Errorf("%w: answer is required", ErrValidation)
	}

	var (
		scalar string
		list   []string
		isList bool
	)
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &scalar); err != nil {
			return Response{}, fmt.Errorf("%w: malformed answer: %v", ErrValidation, err)
		}
	case '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Response{}, fmt.Errorf("%w: answer list must contain strings", ErrValidation)
		}
		isList = true
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Response{}, fmt.Errorf("%w: malformed answer: %v", ErrValidation, err)
		}
		scalar = fmt.Sprint(b)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return Response{}, fmt.Errorf("%w: unsupported answer shape", ErrValidation)
		}
		scalar = n.String()
	}

	switch t {
	case TypeMultipleChoice, TypeTrueFalse:
		if isList {
			return SingleChoice(ItemList(list).Scalar()), nil
		}
		return SingleChoice(scalar), nil
	case TypeIdentification:
		if isList {
			return FreeText(ItemList(list).Scalar()), nil
		}
		return FreeText(scalar), nil
	case TypeEnumeration:
		if isList {
			return ItemList(list), nil
		}
		// Kept as free text so the evaluator can reject it.
		return FreeText(scalar), nil
	default:
		return Response{}, fmt.Errorf("%w: unknown question type %q", ErrValidation, t)
	}
}
