package obvius

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultMaxBodyBytes       int64 = 32 << 20
	defaultMaxMultipartMemory int64 = 8 << 20
)

// readBodyFields decodes the request body into fields without touching the
// request's own form state. Bodies with no content type, or one we do not
// understand, contribute nothing. Uploaded file parts are read and dropped.
func readBodyFields(w http.ResponseWriter, r *http.Request, maxBytes, maxMemory int64) (url.Values, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return nil, nil
	}
	mediaType, mediaParams, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	if maxMemory <= 0 {
		maxMemory = defaultMaxMultipartMemory
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	defer body.Close()

	switch mediaType {
	case "application/x-www-form-urlencoded":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, bodyReadError(err, maxBytes)
		}
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid form encoding: %w", err)
		}
		return values, nil

	case "multipart/form-data":
		boundary := mediaParams["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart boundary missing")
		}
		form, err := multipart.NewReader(body, boundary).ReadForm(maxMemory)
		if err != nil {
			return nil, bodyReadError(err, maxBytes)
		}
		defer func() { _ = form.RemoveAll() }()
		return url.Values(form.Value), nil

	case "application/json":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, bodyReadError(err, maxBytes)
		}
		return jsonFields(data)
	}

	// drain so keep-alive connections stay usable
	_, _ = io.Copy(io.Discard, body)
	return nil, nil
}

// jsonFields flattens a top-level JSON object into fields. Scalars keep their
// JSON text; null and nested values are not fields.
func jsonFields(data []byte) (url.Values, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	values := make(url.Values, len(raw))
	for key, v := range raw {
		switch typed := v.(type) {
		case string:
			values.Set(key, typed)
		case json.Number:
			values.Set(key, typed.String())
		case bool:
			if typed {
				values.Set(key, "true")
			} else {
				values.Set(key, "false")
			}
		}
	}
	return values, nil
}

func bodyReadError(err error, maxBytes int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("request body too large (max %d bytes)", maxBytes)
	}
	return err
}
