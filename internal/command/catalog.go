package command

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
)

// Unsupported lists runtime commands that cannot work over the protocol.
var Unsupported = map[string]bool{
	"login":         true,
	"logout":        true,
	"release-notes": true,
	"todos":         true,
	"cost":          true,
	"context":       true,
}

// Source records where a command came from.
type Source string

const (
	SourceRuntime Source = "runtime"
	SourceUser    Source = "user"
	SourceProject Source = "project"
)

// Command is one slash command.
type Command struct {
	Name         string
	Description  string
	ArgumentHint string
	Template     string
	Source       Source
}

// frontmatter is the YAML header of a markdown command.
type frontmatter struct {
	Description  string `yaml:"description"`
	ArgumentHint string `yaml:"argument-hint"`
	Model        string `yaml:"model"`
	AllowedTools any    `yaml:"allowed-tools"`
}

// Catalog is an ordered set of commands.
type Catalog struct {
	commands map[string]Command
	log      zerolog.Logger
}

// NewCatalog creates an empty catalogue.
func NewCatalog() *Catalog {
	return &Catalog{
		commands: make(map[string]Command),
		log:      logging.Component("command"),
	}
}

// Build merges runtime commands with markdown commands found in dirs. Later
// dirs override earlier ones; runtime commands win over files of the same
// name because the runtime already knows how to run them.
func Build(runtime []agentsdk.SlashCommand, dirs map[Source]string) *Catalog {
	c := NewCatalog()
	for _, src := range []Source{SourceUser, SourceProject} {
		if dir, ok := dirs[src]; ok && dir != "" {
			c.LoadDir(dir, src)
		}
	}
	for _, rc := range runtime {
		c.Add(Command{
			Name:         rc.Name,
			Description:  rc.Description,
			ArgumentHint: rc.ArgumentHint,
			Source:       SourceRuntime,
		})
	}
	return c
}

// Add inserts cmd unless it is unsupported.
func (c *Catalog) Add(cmd Command) {
	cmd.Name = strings.TrimPrefix(cmd.Name, "/")
	if cmd.Name == "" || Unsupported[cmd.Name] {
		return
	}
	c.commands[cmd.Name] = cmd
}

// LoadDir adds every markdown command under dir. Nested directories become
// colon-separated names, e.g. frontend/lint.md is frontend:lint.
func (c *Catalog) LoadDir(dir string, src Source) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		cmd, err := ParseMarkdown(path)
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("skipping command file")
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		cmd.Name = strings.ReplaceAll(strings.TrimSuffix(rel, ".md"), string(filepath.Separator), ":")
		cmd.Source = src
		c.Add(cmd)
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("dir", dir).Msg("failed to walk commands directory")
	}
}

// ParseMarkdown reads a markdown command file.
func ParseMarkdown(path string) (Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Command{}, err
	}

	body := data
	var fm frontmatter
	if rest, ok := bytes.CutPrefix(data, []byte("---\n")); ok {
		header, after, found := bytes.Cut(rest, []byte("\n---"))
		if !found {
			return Command{}, fmt.Errorf("unterminated frontmatter")
		}
		if err := yaml.Unmarshal(header, &fm); err != nil {
			return Command{}, fmt.Errorf("frontmatter: %w", err)
		}
		body = after
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			body = body[i+1:]
		} else {
			body = nil
		}
	}

	template := strings.TrimSpace(string(body))
	desc := fm.Description
	if desc == "" {
		desc = firstLine(template)
	}
	return Command{
		Description:  desc,
		ArgumentHint: fm.ArgumentHint,
		Template:     template,
	}, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 80 {
		line = string(r[:79]) + "…"
	}
	return line
}

// Get returns the command called name.
func (c *Catalog) Get(name string) (Command, bool) {
	cmd, ok := c.commands[strings.TrimPrefix(name, "/")]
	return cmd, ok
}

// List returns the commands sorted by name.
func (c *Catalog) List() []Command {
	out := make([]Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Available renders the catalogue for an available-commands update.
func (c *Catalog) Available() []acp.AvailableCommand {
	list := c.List()
	out := make([]acp.AvailableCommand, 0, len(list))
	for _, cmd := range list {
		ac := acp.AvailableCommand{Name: cmd.Name, Description: cmd.Description}
		if cmd.ArgumentHint != "" {
			ac.Input = &acp.AvailableCommandInput{
				UnstructuredCommandInput: &acp.AvailableCommandUnstructuredCommandInput{Hint: cmd.ArgumentHint},
			}
		}
		out = append(out, ac)
	}
	return out
}

var positionalRe = regexp.MustCompile(`\$(\d+)`)

// Expand rewrites a "/name args" prompt using the command's template. Only
// file commands the runtime did not report are expanded; everything else is
// passed through for the runtime to handle.
func (c *Catalog) Expand(prompt string) (string, bool) {
	if !strings.HasPrefix(prompt, "/") {
		return prompt, false
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(prompt, "/"), " ")
	cmd, ok := c.commands[name]
	if !ok || cmd.Source == SourceRuntime || cmd.Template == "" {
		return prompt, false
	}

	args = strings.TrimSpace(args)
	fields := strings.Fields(args)
	out := strings.ReplaceAll(cmd.Template, "$ARGUMENTS", args)
	out = positionalRe.ReplaceAllStringFunc(out, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(fields) {
			return ""
		}
		return fields[n-1]
	})
	return out, true
}
