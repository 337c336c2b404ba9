package scenario

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeError locates a malformed part of a scenario document.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(path string, format string, args ...any) error {
	return &DecodeError{Path: path, Err: fmt.Errorf(format, args...)}
}

func wrapErr(path string, err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DecodeError); ok {
		if de.Path == "" {
			de.Path = path
		} else if path != "" {
			de.Path = path + "." + de.Path
		}
		return de
	}
	return &DecodeError{Path: path, Err: err}
}

// decodeStrict decodes input into out, rejecting unknown keys.
func decodeStrict(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(durationHook),
		ErrorUnused: true,
		Result:      out,
		TagName:     "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// durationHook accepts Go duration strings ("500ms", "2s") and plain numbers
// of seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	return parseDuration(data)
}

func parseDuration(data any) (time.Duration, error) {
	switch v := data.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return d, nil
	}
	return 0, fmt.Errorf("invalid duration %v", data)
}

// ParseDuration exposes the document duration syntax to the executor for
// templated timeout values.
func ParseDuration(v any) (time.Duration, error) {
	return parseDuration(v)
}

func asMap(v any, path string) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, decodeErr(path, "expected a mapping, got %T", v)
	}
	return m, nil
}

// listOf turns a scalar into a one-element list.
func listOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}
