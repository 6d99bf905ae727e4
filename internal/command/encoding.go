package command

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/kingrea/jobhelper/internal/codec"
)

// EncodeConfig packs a job config as base64 of its zlib-compressed JSON.
func EncodeConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("command: encode config: %w", err)
	}
	return codec.Pack(data)
}

// DecodeConfig reverses EncodeConfig and returns the JSON document. With
// substitute set, environment references in the text are expanded first.
func DecodeConfig(packed string, substitute bool) ([]byte, error) {
	data, err := codec.Unpack(packed)
	if err != nil {
		return nil, fmt.Errorf("command: decode config: %w", err)
	}
	if substitute {
		data = []byte(Substitute(string(data), os.LookupEnv))
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("command: decoded config is not valid JSON")
	}
	return data, nil
}

var envRef = regexp.MustCompile(`\$(\$|[_A-Za-z][_A-Za-z0-9]*|\{[_A-Za-z][_A-Za-z0-9]*\})`)

// Substitute replaces $NAME and ${NAME} with defined variables and $$ with a
// literal $. Undefined references are left untouched.
func Substitute(text string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1:]
		if name == "$" {
			return "$"
		}
		if name[0] == '{' {
			name = name[1 : len(name)-1]
		}
		if value, ok := lookup(name); ok {
			return value
		}
		return match
	})
}
