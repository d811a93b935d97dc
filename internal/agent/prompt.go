package agent

import (
	"fmt"
	"os"
	"strings"
)

// rootPlaceholder is substituted in custom prompt files.
const rootPlaceholder = "{{root}}"

const defaultPromptTemplate = `You are a coding agent working inside a local filesystem workspace.

Workspace root (you MUST NOT leave this directory): ` + "`" + rootPlaceholder + "`" + `.

You cannot run shell commands or touch the operating system directly.
Instead you use the following TOOLS by replying with pure JSON and nothing else:

1) List directory contents:
   {"tool": "list_dir", "path": "relative/path"}

2) Read a UTF-8 text file:
   {"tool": "read_file", "path": "relative/path"}

3) Create or overwrite a UTF-8 text file:
   {"tool": "write_file", "path": "relative/path", "content": "..."}

Rules:
- "path" is ALWAYS relative to the workspace root. Use "" or "." for the root itself.
- NEVER include ".." in a path and never use absolute paths.
- When you call a tool, reply with ONLY the JSON object.
- The system replies with:
  TOOL_RESULT: <json>
  where <json> is {"status":"ok","result":...} or {"status":"error","message":"..."}.
- After a TOOL_RESULT you may call another tool, or fix your request after an error.
- When the task is finished, reply in plain natural language (no JSON) describing
  what you did and showing the important snippets.
`

// SystemPrompt returns the built-in protocol instructions for root.
func SystemPrompt(root string) string {
	return strings.ReplaceAll(defaultPromptTemplate, rootPlaceholder, root)
}

// LoadSystemPrompt reads a prompt template from path and substitutes
// {{root}}. An empty path yields the built-in prompt.
func LoadSystemPrompt(path, root string) (string, error) {
	if path == "" {
		return SystemPrompt(root), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt file %s is empty", path)
	}
	return strings.ReplaceAll(prompt, rootPlaceholder, root), nil
}
