// Package expand decodes configuration JSON after expanding environment
// variables in it.
package expand

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Unmarshal expands variables in the JSON from the environment using
// os.Expand (https://pkg.go.dev/os#Expand), then decodes it into v. This
// supports expansion with defaults, e.g
//
// `{"addr": "${REDIS_ADDR:-localhost:6379}"}`
//
// will use the contents of the REDIS_ADDR environment variable if it is set,
// otherwise `localhost:6379`.
//
// The JSON unmarshaling is strict, and will error if it contains unknown fields.
func Unmarshal(jsonBytes []byte, v any) error {
	expanded := os.Expand(string(jsonBytes), getenvWithDefault)

	jd := json.NewDecoder(strings.NewReader(expanded))
	jd.DisallowUnknownFields()

	if err := jd.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}
	return nil
}

// getenvWithDefault maps FOO:-default to $FOO or default if $FOO is unset or
// null.
func getenvWithDefault(key string) string {
	parts := strings.SplitN(key, ":-", 2)
	val := os.Getenv(parts[0])
	if val == "" && len(parts) == 2 {
		val = parts[1]
	}
	return val
}
