package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sydlexius/pushhook/internal/provider"
	"github.com/sydlexius/pushhook/internal/webhook"
)

// DefaultText is sent when neither the request nor the webhook supplies one.
const DefaultText = "Notification"

// maxMultipartMemory bounds in-memory multipart parsing. The body itself is
// capped by the HTTP layer.
const maxMultipartMemory = 1 << 20

// ValidationError reports a request parameter that could not be coerced.
// It fails a trigger as a whole, before any provider is contacted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Overrides holds the parameters a trigger request supplied. A nil field
// means the request did not set it.
type Overrides struct {
	Text     *string
	Priority *int
	Retry    *int
	Expire   *int
}

// Params is the fully resolved dispatch input.
type Params struct {
	Providers []provider.Name
	Message   provider.Message
}

// Resolve merges overrides over the webhook's stored defaults. Providers
// always come from the webhook.
func Resolve(w *webhook.Webhook, o Overrides) Params {
	msg := provider.Message{
		Text:     w.Message,
		Priority: w.Priority,
		Retry:    w.Retry,
		Expire:   w.Expire,
	}
	if o.Text != nil {
		msg.Text = *o.Text
	}
	if msg.Text == "" {
		msg.Text = DefaultText
	}
	if o.Priority != nil {
		msg.Priority = *o.Priority
	}
	if o.Retry != nil {
		msg.Retry = *o.Retry
	}
	if o.Expire != nil {
		msg.Expire = *o.Expire
	}

	providers := make([]provider.Name, len(w.Providers))
	copy(providers, w.Providers)
	return Params{Providers: providers, Message: msg}
}

// source is one layer of request parameters. Values are strings for form
// and query layers and decoded JSON values for a JSON body.
type source map[string]any

// ParseOverrides extracts trigger overrides from r. For each field the body
// (form-encoded, multipart or JSON object) wins over the query string. Empty
// strings count as absent.
func ParseOverrides(r *http.Request) (Overrides, error) {
	body, err := bodySource(r)
	if err != nil {
		return Overrides{}, err
	}
	layers := []source{body, valuesSource(r.URL.Query())}

	var o Overrides
	if o.Text, err = lookupText(layers, "message", "msg"); err != nil {
		return Overrides{}, err
	}
	if o.Priority, err = lookupInt(layers, "priority"); err != nil {
		return Overrides{}, err
	}
	if o.Priority != nil && (*o.Priority < provider.PriorityLowest || *o.Priority > provider.PriorityEmergency) {
		return Overrides{}, &ValidationError{Field: "priority", Reason: "must be between -2 and 2"}
	}
	for _, f := range []struct {
		name string
		dst  **int
	}{{"retry", &o.Retry}, {"expire", &o.Expire}} {
		v, err := lookupInt(layers, f.name)
		if err != nil {
			return Overrides{}, err
		}
		if v != nil && *v <= 0 {
			return Overrides{}, &ValidationError{Field: f.name, Reason: "must be a positive integer"}
		}
		*f.dst = v
	}
	return o, nil
}

func bodySource(r *http.Request) (source, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		// Read directly: ParseForm ignores the body outside POST, PUT and PATCH.
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, bodyError(err)
		}
		return valuesSource(values), nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, bodyError(err)
		}
		return valuesSource(r.MultipartForm.Value), nil

	case "application/json":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			return nil, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, &ValidationError{Reason: "request body must be a JSON object"}
		}
		return source(obj), nil
	}

	// Other content types carry no parameters.
	return nil, nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &ValidationError{Reason: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)}
	}
	return &ValidationError{Reason: "malformed request body"}
}

func valuesSource(v url.Values) source {
	if len(v) == 0 {
		return nil
	}
	s := make(source, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			s[k] = vals[0]
		}
	}
	return s
}

// lookup returns the first present value for any of keys, scanning layers
// in order. Null and empty strings are skipped.
func lookup(layers []source, keys ...string) (string, any, bool) {
	for _, layer := range layers {
		for _, k := range keys {
			v, ok := layer[k]
			if !ok || v == nil {
				continue
			}
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return k, v, true
		}
	}
	return "", nil, false
}

func lookupText(layers []source, keys ...string) (*string, error) {
	key, v, ok := lookup(layers, keys...)
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return &t, nil
	case json.Number:
		s := t.String()
		return &s, nil
	default:
		return nil, &ValidationError{Field: key, Reason: "must be a string"}
	}
}

func lookupInt(layers []source, key string) (*int, error) {
	_, v, ok := lookup(layers, key)
	if !ok {
		return nil, nil
	}
	invalid := &ValidationError{Field: key, Reason: "must be an integer"}

	switch t := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, invalid
		}
		return &n, nil
	case json.Number:
		if n, err := strconv.Atoi(t.String()); err == nil {
			return &n, nil
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return nil, invalid
		}
		n := int(f)
		return &n, nil
	default:
		return nil, invalid
	}
}
