package decode

import (
	"chatgateway/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Options customizes Decode behavior.
type Options struct {
	// Lenient decoding (default true): "123" -> int, 1.0 -> int64, etc.
	WeaklyTypedInput bool
	// Reject keys the target struct does not declare.
	ErrorUnused bool
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// DecodeMap decodes a generic JSON object (as decoded into map[string]any)
// into an arbitrary payload struct T. Struct fields are matched via `json`
// tags, e.g. AuthPayload / ConversationPayload.
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, errs.ErrArgs.WithDetail("payload is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "build decoder")
	}
	if err := dec.Decode(m); err != nil {
		return nil, errs.ErrArgs.WithDetail(err.Error())
	}
	return &out, nil
}
