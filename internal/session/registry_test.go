package session_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	acp "github.com/coder/acp-go-sdk"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/session"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/mcpserver/acptools"
)

var _ = Describe("Registry", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(session.Config{})
	})

	Describe("Initialize", func() {
		It("advertises loading, rich prompts and the login method", func() {
			resp, err := h.reg.Initialize(h.ctx, acp.InitializeRequest{ProtocolVersion: acp.ProtocolVersionNumber})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.AgentCapabilities.LoadSession).To(BeTrue())
			Expect(resp.AgentCapabilities.PromptCapabilities.Image).To(BeTrue())
			Expect(resp.AgentCapabilities.PromptCapabilities.EmbeddedContext).To(BeTrue())
			Expect(resp.AuthMethods).To(HaveLen(1))
			Expect(string(resp.AuthMethods[0].Id)).To(Equal(session.AuthMethodID))
		})
	})

	Describe("NewSession", func() {
		It("starts the runtime with bridge-controlled options", func() {
			resp, _, opts := h.newSession(map[string]any{
				"claudeCode": map[string]any{"options": map[string]any{
					"cwd":          "/elsewhere",
					"maxTurns":     7,
					"allowedTools": []string{"WebFetch"},
				}},
			})

			Expect(resp.SessionId).NotTo(BeEmpty())
			Expect(opts.Cwd).To(Equal(h.cwd))
			Expect(opts.SessionID).To(Equal(string(resp.SessionId)))
			Expect(opts.MaxTurns).To(Equal(7))
			Expect(opts.AllowedTools).To(ConsistOf("WebFetch"))
			Expect(opts.IncludePartialMessages).To(BeTrue())
			Expect(opts.CanUseTool).NotTo(BeNil())
			Expect(opts.Hooks).To(HaveKey(agentsdk.HookPreToolUse))
			Expect(opts.Hooks).To(HaveKey(agentsdk.HookPostToolUse))
			Expect(opts.PermissionMode).To(Equal(string(permission.ModeDefault)))
		})

		It("reports modes and the resolved model", func() {
			resp, q, _ := h.newSession(nil)

			Expect(resp.Modes).NotTo(BeNil())
			Expect(string(resp.Modes.CurrentModeId)).To(Equal("default"))
			Expect(resp.Modes.AvailableModes).To(HaveLen(len(permission.Modes)))
			Expect(resp.Models).NotTo(BeNil())
			Expect(string(resp.Models.CurrentModelId)).To(Equal("default"))
			Expect(resp.Models.AvailableModels).To(HaveLen(3))
			Expect(q.Models()).To(ConsistOf("default"))
		})

		It("applies the settings default mode and model alias", func() {
			h.writeFile(".claude/settings.json", `{"model":"opus","permissions":{"defaultMode":"acceptEdits"}}`)

			resp, q, opts := h.newSession(nil)

			Expect(string(resp.Modes.CurrentModeId)).To(Equal("acceptEdits"))
			Expect(opts.PermissionMode).To(Equal("acceptEdits"))
			Expect(string(resp.Models.CurrentModelId)).To(Equal("claude-opus-4-1"))
			Expect(q.Models()).To(ConsistOf("claude-opus-4-1"))
		})

		It("converts client MCP servers", func() {
			var servers []acp.McpServer
			for _, raw := range []string{
				`{"name":"files","command":"/bin/files","args":["--ro"],"env":[{"name":"A","value":"1"}]}`,
				`{"type":"http","name":"docs","url":"https://docs.example/mcp","headers":[{"name":"Authorization","value":"t"}]}`,
			} {
				servers = append(servers, mcpServer(raw))
			}
			_, err := h.reg.NewSession(h.ctx, acp.NewSessionRequest{Cwd: h.cwd, McpServers: servers})
			Expect(err).NotTo(HaveOccurred())

			_, opts := h.runtime.Last()
			Expect(opts.MCPServers).To(HaveKeyWithValue("files", agentsdk.MCPServer{
				Type: "stdio", Command: "/bin/files", Args: []string{"--ro"}, Env: map[string]string{"A": "1"},
			}))
			Expect(opts.MCPServers).To(HaveKeyWithValue("docs", agentsdk.MCPServer{
				Type: "http", URL: "https://docs.example/mcp", Headers: map[string]string{"Authorization": "t"},
			}))
		})

		It("resumes under the same id and forks under a fresh one", func() {
			resp, _, opts := h.newSession(map[string]any{"claudeCode": map[string]any{"options": map[string]any{"resume": "abc"}}})
			Expect(string(resp.SessionId)).To(Equal("abc"))
			Expect(opts.Resume).To(Equal("abc"))

			resp, _, opts = h.newSession(map[string]any{"claudeCode": map[string]any{"options": map[string]any{"resume": "abc", "forkSession": true}}})
			Expect(string(resp.SessionId)).NotTo(Equal("abc"))
			Expect(opts.Resume).To(Equal("abc"))
			Expect(opts.ForkSession).To(BeTrue())

			Eventually(func() []event.Event { return h.Events(event.SessionCreated) }).Should(HaveLen(2))
		})

		It("rejects a missing working directory", func() {
			_, err := h.reg.NewSession(h.ctx, acp.NewSessionRequest{McpServers: []acp.McpServer{}})
			Expect(requestError(err).Code).To(Equal(-32602))
		})

		It("asks for login when the runtime fails without credentials", func() {
			h.runtime.startErr = errors.New("exit status 1")
			_, err := h.reg.NewSession(h.ctx, acp.NewSessionRequest{Cwd: h.cwd, McpServers: []acp.McpServer{}})
			Expect(requestError(err).Code).To(Equal(-32000))

			creds := config.CredentialsPath()
			Expect(os.MkdirAll(filepath.Dir(creds), 0o700)).To(Succeed())
			Expect(os.WriteFile(creds, []byte(`{}`), 0o600)).To(Succeed())
			_, err = h.reg.NewSession(h.ctx, acp.NewSessionRequest{Cwd: h.cwd, McpServers: []acp.McpServer{}})
			Expect(requestError(err).Code).To(Equal(-32603))
		})
	})

	Describe("with the tool server", func() {
		It("routes native file and shell tools through it", func() {
			tools := acptools.NewServer()
			tools.SetBaseURL("http://127.0.0.1:1")
			h = newHarness(session.Config{Tools: tools})

			resp, _, opts := h.newSession(nil)

			Expect(opts.MCPServers).To(HaveKey(acptools.ServerName))
			Expect(opts.MCPServers[acptools.ServerName].URL).To(HaveSuffix(string(resp.SessionId)))
			Expect(opts.DisallowedTools).To(ContainElements("Read", "Write", "Edit", "Bash"))
		})
	})

	Describe("SetSessionMode and SetSessionModel", func() {
		var (
			id acp.SessionId
			q  *fakeQuery
		)

		BeforeEach(func() {
			var resp acp.NewSessionResponse
			resp, q, _ = h.newSession(nil)
			id = resp.SessionId
		})

		It("switches the mode and tells the client", func() {
			_, err := h.reg.SetSessionMode(h.ctx, acp.SetSessionModeRequest{SessionId: id, ModeId: "plan"})
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Modes()).To(Equal([]string{"plan"}))

			modes := ofKind(h.client.Wire(), "current_mode_update")
			Expect(modes).To(HaveLen(1))
			Expect(modes[0]["currentModeId"]).To(Equal("plan"))

			s, err := h.reg.Session(string(id))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Mode()).To(Equal(permission.ModePlan))
		})

		It("rejects unknown modes", func() {
			_, err := h.reg.SetSessionMode(h.ctx, acp.SetSessionModeRequest{SessionId: id, ModeId: "yolo"})
			Expect(requestError(err).Code).To(Equal(-32602))
			Expect(q.Modes()).To(BeEmpty())
		})

		It("switches among advertised models and suggests near misses", func() {
			_, err := h.reg.SetSessionModel(h.ctx, acp.SetSessionModelRequest{SessionId: id, ModelId: "claude-sonnet-4-5"})
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Models()).To(ContainElement("claude-sonnet-4-5"))

			_, err = h.reg.SetSessionModel(h.ctx, acp.SetSessionModelRequest{SessionId: id, ModelId: "claude-sonet-4-5"})
			reqErr := requestError(err)
			Expect(reqErr.Code).To(Equal(-32602))
			Expect(fmt.Sprint(reqErr.Data)).To(ContainSubstring(`did you mean "claude-sonnet-4-5"`))

			s, _ := h.reg.Session(string(id))
			Expect(s.Model()).To(Equal("claude-sonnet-4-5"))
		})

		It("fails for unknown sessions", func() {
			_, err := h.reg.SetSessionMode(h.ctx, acp.SetSessionModeRequest{SessionId: "missing", ModeId: "plan"})
			Expect(requestError(err).Code).To(Equal(-32602))
		})
	})

	Describe("persisted sessions", func() {
		const id = "0b7d0a52-6d43-4c1a-9a8a-3f6c9d1e2f00"

		writeTranscript := func() {
			dir := filepath.Join(config.ProjectsDir(), config.EncodeProjectPath(h.cwd))
			Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
			lines := fmt.Sprintf(
				`{"type":"user","sessionId":%[1]q,"cwd":%[2]q,"message":{"role":"user","content":"fix the build"}}`+"\n"+
					`{"type":"assistant","sessionId":%[1]q,"message":{"role":"assistant","content":[{"type":"text","text":"on it"}]}}`+"\n",
				id, h.cwd)
			Expect(os.WriteFile(filepath.Join(dir, id+".jsonl"), []byte(lines), 0o644)).To(Succeed())
		}

		It("loads a transcript and replays it", func() {
			writeTranscript()

			resp, err := h.reg.LoadSession(h.ctx, acp.LoadSessionRequest{SessionId: id, Cwd: h.cwd, McpServers: []acp.McpServer{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Modes).NotTo(BeNil())

			_, opts := h.runtime.Last()
			Expect(opts.Resume).To(Equal(id))
			Expect(opts.SessionID).To(Equal(id))

			updates := h.client.Wire()
			Expect(ofKind(updates, "user_message_chunk")).To(HaveLen(1))
			Expect(chunkText(ofKind(updates, "user_message_chunk")[0])).To(Equal("fix the build"))
			Expect(chunkText(ofKind(updates, "agent_message_chunk")[0])).To(Equal("on it"))
			Expect(ofKind(updates, "available_commands_update")).To(HaveLen(1))
		})

		It("replays in file order, skipping side and foreign entries", func() {
			dir := filepath.Join(config.ProjectsDir(), config.EncodeProjectPath(h.cwd))
			Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
			lines := fmt.Sprintf(
				`{"type":"user","sessionId":%[1]q,"cwd":%[2]q,"message":{"role":"user","content":"first"}}`+"\n"+
					`{"type":"assistant","sessionId":%[1]q,"isSidechain":true,"message":{"role":"assistant","content":[{"type":"text","text":"side"}]}}`+"\n"+
					`{"type":"user","sessionId":"another-session","message":{"role":"user","content":"foreign"}}`+"\n"+
					`{"type":"summary","summary":"Build fixes"}`+"\n"+
					`{"type":"assistant","sessionId":%[1]q,"message":{"role":"assistant","content":[{"type":"text","text":"second"}]}}`+"\n"+
					`{"type":"user","sessionId":%[1]q,"message":{"role":"user","content":"third"}}`+"\n",
				id, h.cwd)
			Expect(os.WriteFile(filepath.Join(dir, id+".jsonl"), []byte(lines), 0o644)).To(Succeed())

			_, err := h.reg.LoadSession(h.ctx, acp.LoadSessionRequest{SessionId: id, Cwd: h.cwd, McpServers: []acp.McpServer{}})
			Expect(err).NotTo(HaveOccurred())

			updates := h.client.Wire()
			var replayed []string
			for _, u := range updates {
				if text := chunkText(u); text != "" {
					replayed = append(replayed, fmt.Sprintf("%s:%s", u["sessionUpdate"], text))
				}
			}
			Expect(replayed).To(Equal([]string{
				"user_message_chunk:first",
				"agent_message_chunk:second",
				"user_message_chunk:third",
			}))
			Expect(updates).NotTo(BeEmpty())
			Expect(updates[len(updates)-1]["sessionUpdate"]).To(Equal("available_commands_update"))
			Expect(ofKind(updates, "available_commands_update")).To(HaveLen(1))
		})

		It("fails to load unknown sessions", func() {
			_, err := h.reg.LoadSession(h.ctx, acp.LoadSessionRequest{SessionId: "nope", Cwd: h.cwd, McpServers: []acp.McpServer{}})
			Expect(requestError(err).Code).To(Equal(-32602))
		})

		It("lists and deletes sessions idempotently", func() {
			writeTranscript()

			page, err := h.reg.ListSessions(h.ctx, h.cwd, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Sessions).To(HaveLen(1))
			Expect(page.Sessions[0].SessionID).To(Equal(id))
			Expect(page.Sessions[0].Title).To(Equal("fix the build"))

			deleted, err := h.reg.DeleteSession(h.ctx, id, h.cwd)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			deleted, err = h.reg.DeleteSession(h.ctx, id, h.cwd)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())

			page, err = h.reg.ListSessions(h.ctx, h.cwd, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Sessions).To(BeEmpty())
			Eventually(func() []event.Event { return h.Events(event.SessionDeleted) }).Should(HaveLen(2))
		})

		It("closes a live session on delete", func() {
			resp, q, _ := h.newSession(nil)

			_, err := h.reg.DeleteSession(h.ctx, string(resp.SessionId), h.cwd)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Closed()).To(BeTrue())
			_, err = h.reg.Session(string(resp.SessionId))
			Expect(errors.Is(err, session.ErrSessionNotFound)).To(BeTrue())
		})

		It("serves list and delete over the wire and passes other methods on", func() {
			writeTranscript()
			in, peer := io.Pipe()
			out := gbytes.NewBuffer()
			router := h.reg.Route(h.ctx, in, out)

			passed := make(chan string, 1)
			go func() {
				line, _ := bufio.NewReader(router.Input()).ReadString('\n')
				passed <- line
			}()

			send := func(format string, args ...any) {
				_, err := fmt.Fprintf(peer, format+"\n", args...)
				Expect(err).NotTo(HaveOccurred())
			}
			send(`{"jsonrpc":"2.0","id":1,"method":"session/list","params":{"cwd":%q}}`, h.cwd)
			Eventually(out).Should(gbytes.Say(`"id":1,"result":\{"sessions":\[\{"sessionId":"` + id + `"`))

			send(`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{}}`)
			Eventually(passed).Should(Receive(ContainSubstring(`"method":"session/prompt"`)))

			send(`{"jsonrpc":"2.0","id":3,"method":"_session/delete","params":{"sessionId":%q,"cwd":%q}}`, id, h.cwd)
			Eventually(out).Should(gbytes.Say(`"id":3,"result":\{"deleted":true\}`))

			send(`{"jsonrpc":"2.0","id":4,"method":"session/delete","params":{"cwd":%q}}`, h.cwd)
			Eventually(out).Should(gbytes.Say(`"id":4,"error":\{"code":-32602`))

			Expect(peer.Close()).To(Succeed())
		})
	})
})

func mcpServer(raw string) acp.McpServer {
	var srv acp.McpServer
	if err := json.Unmarshal([]byte(raw), &srv); err != nil {
		panic(err)
	}
	return srv
}
