package tools

import "encoding/json"

// Status values of a serialized Outcome.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DirEntry is one child reported by list_dir. IsDir and IsFile are computed
// independently; a symlink or special file reports both false.
type DirEntry struct {
	Name   string `json:"name"`
	IsDir  bool   `json:"is_dir"`
	IsFile bool   `json:"is_file"`
}

// FileContent is the read_file result.
type FileContent struct {
	Content string `json:"content"`
}

// WriteConfirmation is the write_file result.
type WriteConfirmation struct {
	Written bool `json:"written"`
}

// Outcome is the result of executing an Intent. Exactly one of Result or
// Message is meaningful, selected by Err.
type Outcome struct {
	// Result holds the typed payload of a successful call:
	// []DirEntry, FileContent or WriteConfirmation.
	Result any
	// Message describes the failure when Err is true.
	Message string
	Err     bool
}

// Ok wraps a successful result.
func Ok(result any) Outcome {
	return Outcome{Result: result}
}

// Fail wraps an error message.
func Fail(message string) Outcome {
	return Outcome{Message: message, Err: true}
}

// Status returns "ok" or "error".
func (o Outcome) Status() string {
	if o.Err {
		return StatusError
	}
	return StatusOK
}

type okEnvelope struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MarshalJSON renders the tool result wire shape.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err {
		return json.Marshal(errorEnvelope{Status: StatusError, Message: o.Message})
	}
	return json.Marshal(okEnvelope{Status: StatusOK, Result: o.Result})
}
