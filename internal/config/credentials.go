package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
)

// DefaultCredentialsFile holds the request headers, e.g.
//
//	{"X-StorageApi-Token": "1234-abcdef"}
const DefaultCredentialsFile = "config.json"

// ErrCredentialsNotFound is returned when the credentials file does not exist.
var ErrCredentialsNotFound = errors.New("credentials file not found")

// LoadCredentials reads a JSON object of header names to string values.
func LoadCredentials(path string) (http.Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, path)
		}
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse credentials %s: expected an object of string values: %w", path, err)
	}

	headers := make(http.Header, len(values))
	for name, value := range values {
		if name == "" {
			return nil, fmt.Errorf("parse credentials %s: empty header name", path)
		}
		headers.Set(name, value)
	}

	return headers, nil
}
