package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// clarifierPayload is the "data" of a clarifier step or result.
type clarifierPayload struct {
	Resp []clarifierItem `mapstructure:"resp"`
	Done bool           `mapstructure:"done"`
}

type clarifierItem struct {
	Question string `mapstructure:"question"`
	Answer   string `mapstructure:"answer"`
}

func (p clarifierPayload) questions() []domain.QA {
	out := make([]domain.QA, 0, len(p.Resp))
	for _, item := range p.Resp {
		q := strings.TrimSpace(item.Question)
		if q == "" {
			continue
		}
		out = append(out, domain.QA{
			Question: q,
			Answer:   item.Answer,
			Answered: strings.TrimSpace(item.Answer) != "",
		})
	}
	return out
}

// decodeMap decodes a loosely typed map into out. Numbers and booleans are
// accepted as strings where the target expects one.
func decodeMap(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// parseTimestamp accepts epoch seconds (float) or RFC 3339 strings.
func parseTimestamp(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return fallback
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return fallback
}

// errorMessage extracts a human readable message from an in-band error field.
func errorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case map[string]any:
		for _, key := range []string{"message", "detail", "error"} {
			if s, ok := e[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func decodeFailure(raw []byte, reason string, err error, base domain.EventBase) domain.Event {
	return domain.ErrorEvent{EventBase: base, Err: domain.NewDecodeError(raw, reason, err)}
}
