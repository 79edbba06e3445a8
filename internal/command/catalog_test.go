package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseMarkdown(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "test.md")
	writeFile(t, p, "---\ndescription: Run tests\nargument-hint: <pkg>\nallowed-tools: [Bash]\n---\nRun tests for $1\n")
	cmd, err := ParseMarkdown(p)
	require.NoError(t, err)
	assert.Equal(t, "Run tests", cmd.Description)
	assert.Equal(t, "<pkg>", cmd.ArgumentHint)
	assert.Equal(t, "Run tests for $1", cmd.Template)

	p = filepath.Join(dir, "plain.md")
	writeFile(t, p, "Explain the build system.\nBe brief.")
	cmd, err = ParseMarkdown(p)
	require.NoError(t, err)
	assert.Equal(t, "Explain the build system.", cmd.Description)

	p = filepath.Join(dir, "bad.md")
	writeFile(t, p, "---\ndescription: [unclosed\n---\nx")
	_, err = ParseMarkdown(p)
	assert.Error(t, err)

	p = filepath.Join(dir, "open.md")
	writeFile(t, p, "---\ndescription: x\n")
	_, err = ParseMarkdown(p)
	assert.Error(t, err)
}

func TestBuild_MergesAndFilters(t *testing.T) {
	user := t.TempDir()
	project := t.TempDir()
	writeFile(t, filepath.Join(user, "review.md"), "---\ndescription: user review\n---\nReview")
	writeFile(t, filepath.Join(project, "review.md"), "---\ndescription: project review\n---\nReview $ARGUMENTS")
	writeFile(t, filepath.Join(project, "frontend", "lint.md"), "Lint the frontend")
	writeFile(t, filepath.Join(project, "notes.txt"), "ignored")

	c := Build([]agentsdk.SlashCommand{
		{Name: "compact", Description: "Compact the conversation", ArgumentHint: "<instructions>"},
		{Name: "login", Description: "Log in"},
		{Name: "cost", Description: "Show cost"},
	}, map[Source]string{SourceUser: user, SourceProject: project})

	var names []string
	for _, cmd := range c.List() {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"compact", "frontend:lint", "review"}, names)

	review, ok := c.Get("/review")
	require.True(t, ok)
	assert.Equal(t, "project review", review.Description)
	assert.Equal(t, SourceProject, review.Source)

	avail := c.Available()
	require.Len(t, avail, 3)
	assert.Equal(t, "compact", avail[0].Name)
	require.NotNil(t, avail[0].Input)
	assert.Equal(t, "<instructions>", avail[0].Input.UnstructuredCommandInput.Hint)
	assert.Nil(t, avail[1].Input)
}

func TestBuild_MissingDirs(t *testing.T) {
	c := Build(nil, map[Source]string{SourceProject: filepath.Join(t.TempDir(), "absent")})
	assert.Empty(t, c.List())
}

func TestExpand(t *testing.T) {
	c := NewCatalog()
	c.Add(Command{Name: "fix", Template: "Fix issue $1 in $2. Context: $ARGUMENTS", Source: SourceProject})
	c.Add(Command{Name: "compact", Source: SourceRuntime})

	out, ok := c.Expand("/fix 42 parser")
	require.True(t, ok)
	assert.Equal(t, "Fix issue 42 in parser. Context: 42 parser", out)

	out, ok = c.Expand("/fix")
	require.True(t, ok)
	assert.Equal(t, "Fix issue  in . Context: ", out)

	out, ok = c.Expand("/compact keep tests")
	assert.False(t, ok)
	assert.Equal(t, "/compact keep tests", out)

	_, ok = c.Expand("no slash")
	assert.False(t, ok)
}
