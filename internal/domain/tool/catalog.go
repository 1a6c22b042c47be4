// Package tool holds the built-in tool catalog, the per-request injection
// policy, and the classification-driven smart selection that trims the
// catalog to what a request plausibly needs.
package tool

import (
	"github.com/relaygate/relaygate/internal/domain/message"
)

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func schema(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// catalog is the fixed set of tool declarations injected into upstream
// requests that arrive without their own tools. Order matters: the
// token-budget guard trims from the tail, so the most broadly useful tools
// come first.
var catalog = []message.Tool{
	{
		Name:        "Read",
		Description: "Read a file from the local filesystem",
		InputSchema: schema([]string{"file_path"}, map[string]interface{}{
			"file_path": stringProp("Absolute path to the file to read"),
		}),
	},
	{
		Name:        "Grep",
		Description: "Search file contents with a regular expression",
		InputSchema: schema([]string{"pattern"}, map[string]interface{}{
			"pattern": stringProp("Regular expression to search for"),
			"path":    stringProp("Directory to search in"),
		}),
	},
	{
		Name:        "Glob",
		Description: "Find files matching a glob pattern",
		InputSchema: schema([]string{"pattern"}, map[string]interface{}{
			"pattern": stringProp("Glob pattern, e.g. src/**/*.go"),
		}),
	},
	{
		Name:        "Edit",
		Description: "Replace an exact string in a file",
		InputSchema: schema([]string{"file_path", "old_string", "new_string"}, map[string]interface{}{
			"file_path":  stringProp("Absolute path to the file to modify"),
			"old_string": stringProp("Exact text to replace"),
			"new_string": stringProp("Replacement text"),
		}),
	},
	{
		Name:        "Write",
		Description: "Write content to a file, overwriting if it exists",
		InputSchema: schema([]string{"file_path", "content"}, map[string]interface{}{
			"file_path": stringProp("Absolute path to the file to write"),
			"content":   stringProp("Content to write"),
		}),
	},
	{
		Name:        "Bash",
		Description: "Execute a shell command and return its output",
		InputSchema: schema([]string{"command"}, map[string]interface{}{
			"command": stringProp("The command to execute"),
		}),
	},
	{
		Name:        "WebFetch",
		Description: "Fetch a URL and return its content",
		InputSchema: schema([]string{"url"}, map[string]interface{}{
			"url": stringProp("The URL to fetch"),
		}),
	},
}

// Catalog returns a copy of the built-in tool declarations.
func Catalog() []message.Tool {
	out := make([]message.Tool, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogNames returns the catalog's tool names in declaration order.
func CatalogNames() []string {
	out := make([]string, len(catalog))
	for i, t := range catalog {
		out[i] = t.Name
	}
	return out
}

// ShouldInject reports whether the catalog is injected for this request:
// only when the caller supplied zero tools, and, for local providers, only
// when the config toggle allows it. Cloud providers always accept
// injection.
func ShouldInject(requestTools []message.Tool, isLocalProvider, localInjection bool) bool {
	if len(requestTools) > 0 {
		return false
	}
	if isLocalProvider {
		return localInjection
	}
	return true
}
