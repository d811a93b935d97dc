// Package tools decodes tool calls emitted by the model and executes them
// against the sandboxed workspace.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire names of the supported tools.
const (
	ToolListDir   = "list_dir"
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
)

// ErrParse marks text that is not a recognized tool call.
var ErrParse = errors.New("not a tool call")

// Intent is a decoded tool call. The set of implementations is closed:
// ListDir, ReadFile and WriteFile.
type Intent interface {
	// Name returns the wire name of the tool.
	Name() string
	isIntent()
}

// ListDir lists the direct children of a directory.
type ListDir struct {
	Path string
}

// ReadFile reads a whole UTF-8 text file.
type ReadFile struct {
	Path string
}

// WriteFile creates or overwrites a file with Content.
type WriteFile struct {
	Path    string
	Content string
}

func (ListDir) Name() string   { return ToolListDir }
func (ReadFile) Name() string  { return ToolReadFile }
func (WriteFile) Name() string { return ToolWriteFile }

func (ListDir) isIntent()   {}
func (ReadFile) isIntent()  {}
func (WriteFile) isIntent() {}

// Parse decodes candidate as a single tool-call object. Keys must match
// exactly and appear at most once; unknown keys are ignored. Any failure
// wraps ErrParse; callers treat that as "the model answered in prose".
func Parse(candidate string) (Intent, error) {
	fields, err := decodeObject(candidate)
	if err != nil {
		return nil, err
	}

	tool, ok, err := stringField(fields, "tool")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrParse, "tool")
	}

	switch tool {
	case ToolListDir:
		path, err := requiredField(fields, ToolListDir, "path")
		if err != nil {
			return nil, err
		}
		return ListDir{Path: path}, nil
	case ToolReadFile:
		path, err := requiredField(fields, ToolReadFile, "path")
		if err != nil {
			return nil, err
		}
		return ReadFile{Path: path}, nil
	case ToolWriteFile:
		path, err := requiredField(fields, ToolWriteFile, "path")
		if err != nil {
			return nil, err
		}
		content, err := requiredField(fields, ToolWriteFile, "content")
		if err != nil {
			return nil, err
		}
		return WriteFile{Path: path, Content: content}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", ErrParse, tool)
	}
}

// decodeObject reads exactly one JSON object, keeping raw values keyed by
// their exact spelling. Duplicate keys and trailing data are rejected.
func decodeObject(candidate string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(candidate))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: tool call must be a JSON object", ErrParse)
	}

	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrParse, tok)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrParse, key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrParse, key, err)
		}
		fields[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after tool call", ErrParse)
	}
	return fields, nil
}

// stringField returns the string value of key. A present value that is not
// a JSON string, null included, is an error.
func stringField(fields map[string]json.RawMessage, key string) (string, bool, error) {
	raw, ok := fields[key]
	if !ok {
		return "", false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", true, fmt.Errorf("%w: field %q must be a string, got null", ErrParse, key)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, fmt.Errorf("%w: field %q must be a string: %v", ErrParse, key, err)
	}
	return value, true, nil
}

func requiredField(fields map[string]json.RawMessage, tool, key string) (string, error) {
	value, ok, err := stringField(fields, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", missingField(tool, key)
	}
	return value, nil
}

func missingField(tool, field string) error {
	return fmt.Errorf("%w: %s requires field %q", ErrParse, tool, field)
}
