package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFuncTool builds a Tool from a function. A nil schema defaults to an
// unconstrained object.
func NewFuncTool(name, description string, schema json.RawMessage, fn func(ctx context.Context, args map[string]any) (string, error)) *FuncTool {
	if schema == nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string                 { return t.name }
func (t *FuncTool) Description() string          { return t.description }
func (t *FuncTool) InputSchema() json.RawMessage { return t.schema }
func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

const maxHTTPResponseBytes = 64 * 1024

// RegisterBuiltins registers the built-in tool set on the registry. The
// workDir confines file tools; an empty workDir means the current directory.
func RegisterBuiltins(r *Registry, workDir string) {
	if workDir == "" {
		workDir = "."
	}

	r.Register(NewFuncTool("current_time", "Returns the current time in UTC (RFC 3339).",
		json.RawMessage(`{"type":"object","properties":{}}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}))

	r.Register(NewFuncTool("http_get", "Fetches a URL over HTTP GET and returns the response body.",
		json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			url, err := stringArg(args, "url")
			if err != nil {
				return "", err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", fmt.Errorf("building request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
			if err != nil {
				return "", fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("http %d from %s", resp.StatusCode, url)
			}
			return string(body), nil
		}))

	r.Register(NewFuncTool("read_file", "Reads a text file from the working directory.",
		json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			path, err := confinedPath(workDir, args)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}))

	r.Register(NewFuncTool("list_dir", "Lists entries in a directory under the working directory.",
		json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			path := workDir
			if _, ok := args["path"]; ok {
				var err error
				path, err = confinedPath(workDir, args)
				if err != nil {
					return "", err
				}
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return "", err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		}))

	r.Register(NewFuncTool("write_file", "Writes content to a file under the working directory.",
		json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			path, err := confinedPath(workDir, args)
			if err != nil {
				return "", err
			}
			content, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		}))

	r.Register(NewFuncTool("delete_file", "Deletes a file under the working directory.",
		json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		func(ctx context.Context, args map[string]any) (string, error) {
			path, err := confinedPath(workDir, args)
			if err != nil {
				return "", err
			}
			if err := os.Remove(path); err != nil {
				return "", err
			}
			return fmt.Sprintf("deleted %s", path), nil
		}))
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// confinedPath resolves the "path" argument relative to workDir and rejects
// escapes outside it.
func confinedPath(workDir string, args map[string]any) (string, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(workDir, rel))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return abs, nil
}
