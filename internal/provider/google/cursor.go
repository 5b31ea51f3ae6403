package google

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const cursorVersion = 1

var errInvalidCursor = errors.New("google: invalid cursor format")

// cursor carries one sync token per calendar inside the single opaque provider token.
type cursor struct {
	Version    int               `json:"v"`
	SyncTokens map[string]string `json:"sync_tokens"`
}

func newCursor() *cursor {
	return &cursor{Version: cursorVersion, SyncTokens: make(map[string]string)}
}

func decodeCursor(encoded string) (*cursor, error) {
	if encoded == "" {
		return newCursor(), nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errInvalidCursor
	}
	var decoded cursor
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errInvalidCursor
	}
	if decoded.Version > cursorVersion {
		return nil, errInvalidCursor
	}
	if decoded.SyncTokens == nil {
		decoded.SyncTokens = make(map[string]string)
	}
	return &decoded, nil
}

func (c *cursor) encode() string {
	if len(c.SyncTokens) == 0 {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}
