package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mlbridge/mlbridge/internal/engine"
)

// JSON payloads are wrapped between these markers, printed atomically in one
// output statement so they cannot interleave with other interpreter output.
const (
	jsonStartMark = "__MLBRIDGE_JSON_START__"
	jsonEndMark   = "__MLBRIDGE_JSON_END__"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Get instructs the interpreter to serialize the named variables into one
// JSON blob and returns the parsed values keyed by name. Malformed or missing
// JSON yields a nil map, not an error; command-level failures still reject.
func (s *Session) Get(ctx context.Context, names ...string) (map[string]any, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one variable name is required")
	}
	fields := make([]string, 0, len(names)*2)
	for _, name := range names {
		if !identifierPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid variable name %q", name)
		}
		// Cell-wrapping keeps array values as scalar struct fields.
		fields = append(fields, "'"+name+"'", "{"+name+"}")
	}

	code := fmt.Sprintf(
		"printf('%s%%s%s\\n', jsonencode(struct(%s)));",
		jsonStartMark,
		jsonEndMark,
		strings.Join(fields, ", "),
	)
	result, err := s.Exec(ctx, code)
	if err != nil {
		return nil, err
	}

	payload, ok := ExtractJSONPayload(result.Stdout)
	if !ok || !gjson.Valid(payload) {
		return nil, nil
	}
	parsed, ok := gjson.Parse(payload).Value().(map[string]any)
	if !ok {
		return nil, nil
	}
	return parsed, nil
}

// GetOne retrieves a single variable.
func (s *Session) GetOne(ctx context.Context, name string) (any, error) {
	values, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, nil
	}
	return values[name], nil
}

// Put assigns a host value to a variable in the interpreter workspace.
func (s *Session) Put(ctx context.Context, name string, value any) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	encoded, err := engine.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", name, err)
	}
	_, err = s.Exec(ctx, fmt.Sprintf("%s = %s;", name, encoded))
	return err
}

// ExtractJSONPayload slices the text between the JSON bridge markers.
func ExtractJSONPayload(text string) (string, bool) {
	start := strings.Index(text, jsonStartMark)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(jsonStartMark):]
	end := strings.Index(rest, jsonEndMark)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
