package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// ErrInvalidData is returned when the operator's data field is not a JSON
// object of strings.
var ErrInvalidData = errors.New("invalid notification data")

// Content is what the operator typed: one title, one body, one data map,
// shared by every recipient.
type Content struct {
	Title string
	Body  string
	Data  map[string]string
}

// ParseData validates the raw data field. Blank input means no data.
func ParseData(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidData)
	}
	return data, nil
}

// BuildPayloads makes one payload per recipient, in recipient order.
func BuildPayloads(recipients []dispatch.Recipient, content Content) []dispatch.Payload {
	payloads := make([]dispatch.Payload, len(recipients))
	for i, r := range recipients {
		payloads[i] = dispatch.Payload{
			To:    r.PushToken,
			Title: content.Title,
			Body:  content.Body,
			Data:  content.Data,
		}
	}
	return payloads
}
