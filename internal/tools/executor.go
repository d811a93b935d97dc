package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/ashureev/fsagent/internal/sandbox"
)

// Executor runs intents inside a sandbox. It never returns Go errors: every
// failure, including sandbox violations, becomes an error Outcome that is
// fed back to the model.
type Executor struct {
	sb     *sandbox.Sandbox
	logger *slog.Logger
}

// NewExecutor creates an executor bound to sb.
func NewExecutor(sb *sandbox.Sandbox, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sb: sb, logger: logger}
}

// Root returns the workspace root the executor is confined to.
func (e *Executor) Root() string {
	return e.sb.Root()
}

// Execute runs intent exactly once.
func (e *Executor) Execute(ctx context.Context, intent Intent) Outcome {
	if err := ctx.Err(); err != nil {
		return Fail(err.Error())
	}

	var out Outcome
	switch in := intent.(type) {
	case ListDir:
		out = e.listDir(in.Path)
	case ReadFile:
		out = e.readFile(in.Path)
	case WriteFile:
		out = e.writeFile(in.Path, in.Content)
	default:
		out = Fail(fmt.Sprintf("unsupported tool %T", intent))
	}

	if out.Err {
		e.logger.Warn("Tool call failed", "tool", intent.Name(), "error", out.Message)
	} else {
		e.logger.Debug("Tool call succeeded", "tool", intent.Name())
	}
	return out
}

func (e *Executor) listDir(rel string) Outcome {
	path, err := e.sb.Resolve(rel)
	if err != nil {
		return Fail(err.Error())
	}

	children, err := os.ReadDir(path)
	if err != nil {
		return Fail(fmt.Sprintf("read_dir failed on %s: %v", path, err))
	}

	entries := make([]DirEntry, 0, len(children))
	for _, child := range children {
		mode := child.Type()
		entries = append(entries, DirEntry{
			Name:   child.Name(),
			IsDir:  mode.IsDir(),
			IsFile: mode.IsRegular(),
		})
	}
	return Ok(entries)
}

func (e *Executor) readFile(rel string) Outcome {
	path, err := e.sb.Resolve(rel)
	if err != nil {
		return Fail(err.Error())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fail(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	if !utf8.Valid(data) {
		return Fail(fmt.Sprintf("failed to read %s: file is not valid UTF-8 text", path))
	}
	return Ok(FileContent{Content: string(data)})
}

func (e *Executor) writeFile(rel, content string) Outcome {
	path, err := e.sb.Resolve(rel)
	if err != nil {
		return Fail(err.Error())
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return Fail(fmt.Sprintf("failed to create dirs %s: %v", parent, err))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Fail(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	return Ok(WriteConfirmation{Written: true})
}
