package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var errBadBody = errors.New("invalid request body")

// readFields returns the admin request body as form values. JSON objects
// are flattened so handlers accept either encoding: arrays become repeated
// values and scalars their text form.
func readFields(req *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := req.ParseForm(); err != nil {
			return nil, errBadBody
		}
		return req.PostForm, nil
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errBadBody
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return url.Values{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, errBadBody
	}

	values := make(url.Values, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case nil:
		case []any:
			for _, item := range t {
				if s, ok := scalarText(item); ok {
					values.Add(k, s)
				}
			}
		default:
			if s, ok := scalarText(t); ok {
				values.Set(k, s)
			}
		}
	}
	return values, nil
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// intField parses an optional integer field. Blank means zero.
func intField(values url.Values, key string) (int, error) {
	s := strings.TrimSpace(values.Get(key))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// listField collects repeated values, also splitting comma-separated ones.
func listField(values url.Values, key string) []string {
	var out []string
	for _, v := range values[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
