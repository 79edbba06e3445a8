package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	acp "github.com/coder/acp-go-sdk"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/internal/session"
)

var _ = Describe("Prompt", func() {
	var (
		h    *harness
		id   acp.SessionId
		q    *fakeQuery
		opts agentsdk.Options
	)

	BeforeEach(func() {
		h = newHarness(session.Config{})
		h.writeFile(".claude/commands/greet.md", "---\ndescription: Greet someone\n---\nSay hello to $ARGUMENTS")
		var resp acp.NewSessionResponse
		resp, q, opts = h.newSession(nil)
		id = resp.SessionId
	})

	It("streams the reply and ends the turn", func() {
		q.reply(
			agentsdk.Message{Type: agentsdk.TypeSystem, Subtype: "init"},
			textDelta("hel"),
			textDelta("lo"),
			assistant(agentsdk.TextBlock("hello")),
			result(agentsdk.ResultSuccess),
		)

		stop, err := h.prompt(id, acp.TextBlock("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(stop).To(Equal(acp.StopReasonEndTurn))

		chunks := ofKind(h.client.Wire(), "agent_message_chunk")
		Expect(chunks).To(HaveLen(2))
		Expect(chunkText(chunks[0]) + chunkText(chunks[1])).To(Equal("hello"))

		sent := q.Sent()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].SessionID).To(Equal(string(id)))
		Expect(sent[0].Content).To(Equal([]agentsdk.Block{agentsdk.TextBlock("hi")}))
	})

	It("reports tool calls and their results", func() {
		q.reply(
			assistant(toolUse("toolu_1", "Bash", `{"command":"ls"}`)),
			user(toolResult("toolu_1", `"a.go\n"`)),
			result(agentsdk.ResultSuccess),
		)

		_, err := h.prompt(id, acp.TextBlock("list files"))
		Expect(err).NotTo(HaveOccurred())

		updates := h.client.Wire()
		calls := ofKind(updates, "tool_call")
		Expect(calls).To(HaveLen(1))
		Expect(calls[0]["toolCallId"]).To(Equal("toolu_1"))
		results := ofKind(updates, "tool_call_update")
		Expect(results).To(HaveLen(1))
		Expect(results[0]["status"]).To(Equal("completed"))
		Expect(ofKind(updates, "user_message_chunk")).To(BeEmpty())
	})

	It("shows local command output as agent text", func() {
		q.reply(
			user(agentsdk.TextBlock("<local-command-stdout>Compacted.</local-command-stdout>")),
			user(agentsdk.TextBlock("echo of the prompt")),
			result(agentsdk.ResultSuccess),
		)

		_, err := h.prompt(id, acp.TextBlock("/compact"))
		Expect(err).NotTo(HaveOccurred())

		chunks := ofKind(h.client.Wire(), "agent_message_chunk")
		Expect(chunks).To(HaveLen(1))
		Expect(chunkText(chunks[0])).To(Equal("Compacted."))
		Expect(q.Sent()[0].Content[0].Text).To(Equal("/compact"))
	})

	DescribeTable("maps result subtypes to stop reasons",
		func(subtype string, want acp.StopReason) {
			q.reply(result(subtype))
			stop, err := h.prompt(id, acp.TextBlock("go"))
			Expect(err).NotTo(HaveOccurred())
			Expect(stop).To(Equal(want))
		},
		Entry("success", agentsdk.ResultSuccess, acp.StopReasonEndTurn),
		Entry("execution error", agentsdk.ResultErrorDuringExecution, acp.StopReasonRefusal),
		Entry("max turns", agentsdk.ResultErrorMaxTurns, acp.StopReasonMaxTurnRequests),
		Entry("max budget", agentsdk.ResultErrorMaxBudget, acp.StopReasonMaxTurnRequests),
	)

	It("asks for login when the runtime reports it", func() {
		q.reply(agentsdk.Message{Type: agentsdk.TypeResult, Subtype: agentsdk.ResultSuccess, Result: "Invalid API key · Please run /login"})
		_, err := h.prompt(id, acp.TextBlock("hi"))
		Expect(requestError(err).Code).To(Equal(-32000))
	})

	It("fails when the runtime exits mid-turn", func() {
		q.OnSend(func(q *fakeQuery, _ agentsdk.UserMessage) { q.exit(errors.New("killed")) })
		_, err := h.prompt(id, acp.TextBlock("hi"))
		reqErr := requestError(err)
		Expect(reqErr.Code).To(Equal(-32603))
	})

	It("fails for unknown sessions", func() {
		_, err := h.prompt("missing", acp.TextBlock("hi"))
		Expect(requestError(err).Code).To(Equal(-32602))
	})

	Describe("prompt content", func() {
		It("expands custom commands and inlines resources", func() {
			q.reply(result(agentsdk.ResultSuccess))

			_, err := h.prompt(id,
				acp.TextBlock("/greet Bob"),
				contentBlock(`{"type":"resource_link","name":"main.go","uri":"file:///w/main.go"}`),
				contentBlock(`{"type":"resource","resource":{"uri":"file:///w/notes.md","text":"remember this","mimeType":"text/markdown"}}`),
				contentBlock(`{"type":"image","data":"aGVsbG8=","mimeType":"image/png"}`),
			)
			Expect(err).NotTo(HaveOccurred())

			content := q.Sent()[0].Content
			Expect(content).To(HaveLen(5))
			Expect(content[0].Text).To(Equal("Say hello to Bob"))
			Expect(content[1].Text).To(Equal("[@main.go](file:///w/main.go)"))
			Expect(content[2].Text).To(Equal("[@notes.md](file:///w/notes.md)"))
			Expect(content[3].Type).To(Equal(agentsdk.BlockImage))
			Expect(content[4].Text).To(Equal("\n<context ref=\"file:///w/notes.md\">\nremember this\n</context>"))
		})

		It("rewrites MCP prompt commands", func() {
			q.reply(result(agentsdk.ResultSuccess))
			_, err := h.prompt(id, acp.TextBlock("/mcp:github:review 42"))
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Sent()[0].Content[0].Text).To(Equal("/github:review (MCP) 42"))
		})
	})

	Describe("Cancel", func() {
		It("ends the turn and drops its leftover output", func() {
			q.OnInterrupt(func(q *fakeQuery) {
				q.out <- textDelta("late")
				q.out <- result(agentsdk.ResultErrorDuringExecution)
			})

			done := make(chan acp.StopReason, 1)
			go func() {
				defer GinkgoRecover()
				stop, err := h.prompt(id, acp.TextBlock("long task"))
				Expect(err).NotTo(HaveOccurred())
				done <- stop
			}()
			Eventually(q.Sent).Should(HaveLen(1))

			Expect(h.reg.Cancel(h.ctx, acp.CancelNotification{SessionId: id})).To(Succeed())
			Eventually(done).Should(Receive(Equal(acp.StopReasonCancelled)))
			Expect(q.Interrupts()).To(Equal(1))

			h.client.Reset()
			q.reply(textDelta("fresh"), result(agentsdk.ResultSuccess))
			stop, err := h.prompt(id, acp.TextBlock("next"))
			Expect(err).NotTo(HaveOccurred())
			Expect(stop).To(Equal(acp.StopReasonEndTurn))

			chunks := ofKind(h.client.Wire(), "agent_message_chunk")
			Expect(chunks).To(HaveLen(1))
			Expect(chunkText(chunks[0])).To(Equal("fresh"))
		})

		It("treats an ended request context as a cancelled turn", func() {
			q.OnInterrupt(func(q *fakeQuery) {
				q.out <- textDelta("late")
				q.out <- result(agentsdk.ResultErrorDuringExecution)
			})

			pctx, cancelRequest := context.WithCancel(h.ctx)
			defer cancelRequest()
			type outcome struct {
				stop acp.StopReason
				err  error
			}
			done := make(chan outcome, 1)
			go func() {
				resp, err := h.reg.Prompt(pctx, acp.PromptRequest{SessionId: id, Prompt: []acp.ContentBlock{acp.TextBlock("long task")}})
				done <- outcome{resp.StopReason, err}
			}()
			Eventually(q.Sent).Should(HaveLen(1))

			// The connection ends the request first, then delivers session/cancel.
			cancelRequest()
			Expect(h.reg.Cancel(h.ctx, acp.CancelNotification{SessionId: id})).To(Succeed())

			var got outcome
			Eventually(done).Should(Receive(&got))
			Expect(got.err).NotTo(HaveOccurred())
			Expect(got.stop).To(Equal(acp.StopReasonCancelled))
			Expect(q.Interrupts()).To(Equal(1))

			h.client.Reset()
			q.reply(textDelta("fresh"), result(agentsdk.ResultSuccess))
			stop, err := h.prompt(id, acp.TextBlock("next"))
			Expect(err).NotTo(HaveOccurred())
			Expect(stop).To(Equal(acp.StopReasonEndTurn))
			chunks := ofKind(h.client.Wire(), "agent_message_chunk")
			Expect(chunks).To(HaveLen(1))
			Expect(chunkText(chunks[0])).To(Equal("fresh"))
		})

		It("is a no-op when idle", func() {
			Expect(h.reg.Cancel(h.ctx, acp.CancelNotification{SessionId: id})).To(Succeed())
			Expect(h.reg.Cancel(h.ctx, acp.CancelNotification{SessionId: id})).To(Succeed())
			Expect(q.Interrupts()).To(BeZero())

			q.reply(result(agentsdk.ResultSuccess))
			stop, err := h.prompt(id, acp.TextBlock("hi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(stop).To(Equal(acp.StopReasonEndTurn))
		})
	})

	Describe("tool permissions", func() {
		var canUse func(tool, input string) agentsdk.PermissionResult

		BeforeEach(func() {
			canUse = func(tool, input string) agentsdk.PermissionResult {
				GinkgoHelper()
				res, err := opts.CanUseTool(context.Background(), agentsdk.PermissionRequest{
					ToolName:  tool,
					Input:     json.RawMessage(input),
					ToolUseID: "toolu_p",
				})
				Expect(err).NotTo(HaveOccurred())
				return res
			}
		})

		It("asks the client and remembers always-allow", func() {
			h.client.Choose(func(acp.RequestPermissionRequest) string { return "allow_always" })

			res := canUse(permission.ToolBash, `{"command":"git status"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorAllow))
			Expect(string(res.UpdatedInput)).To(MatchJSON(`{"command":"git status"}`))

			reqs := h.client.Permissions()
			Expect(reqs).To(HaveLen(1))
			Expect(string(reqs[0].ToolCall.ToolCallId)).To(Equal("toolu_p"))
			Expect(reqs[0].Options).To(HaveLen(3))

			res = canUse(permission.ToolBash, `{"command":"git status --short"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorAllow))
			Expect(h.client.Permissions()).To(HaveLen(1))

			Eventually(func() []event.Event { return h.Events(event.PermissionResolved) }).Should(HaveLen(2))
			Expect(h.Events(event.PermissionRequired)).To(HaveLen(1))
		})

		It("denies and interrupts when the user rejects or cancels", func() {
			h.client.Choose(func(acp.RequestPermissionRequest) string { return "reject" })
			res := canUse(permission.ToolWrite, `{"file_path":"/tmp/x","content":"y"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorDeny))
			Expect(res.Interrupt).To(BeTrue())

			h.client.Choose(nil)
			res = canUse(permission.ToolWrite, `{"file_path":"/tmp/x","content":"y"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorDeny))
			Expect(res.Message).To(Equal("User refused permission to run tool"))
		})

		It("follows settings rules without prompting", func() {
			h.writeFile(".claude/settings.json", `{"permissions":{"allow":["Read"],"deny":["Bash(rm:*)"]}}`)
			Eventually(func() agentsdk.PermissionResult {
				return canUse(permission.ToolRead, `{"file_path":"`+h.cwd+`/a.go"}`)
			}).WithTimeout(3 * time.Second).Should(HaveField("Behavior", agentsdk.BehaviorAllow))

			res := canUse(permission.ToolBash, `{"command":"rm -rf build"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorDeny))
			Expect(res.Message).To(ContainSubstring("Bash(rm:*)"))
		})

		It("allows everything in bypass mode", func() {
			_, err := h.reg.SetSessionMode(h.ctx, acp.SetSessionModeRequest{SessionId: id, ModeId: "bypassPermissions"})
			Expect(err).NotTo(HaveOccurred())

			res := canUse(permission.ToolBash, `{"command":"make"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorAllow))
			Expect(h.client.Permissions()).To(BeEmpty())
		})

		It("leaves plan mode in the mode the user picks", func() {
			_, err := h.reg.SetSessionMode(h.ctx, acp.SetSessionModeRequest{SessionId: id, ModeId: "plan"})
			Expect(err).NotTo(HaveOccurred())
			h.client.Choose(func(req acp.RequestPermissionRequest) string {
				ids := make([]string, 0, len(req.Options))
				for _, o := range req.Options {
					ids = append(ids, string(o.OptionId))
				}
				Expect(ids).To(Equal([]string{"acceptEdits", "default", "plan"}))
				return "acceptEdits"
			})

			res := canUse("ExitPlanMode", `{"plan":"1. do it"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorAllow))
			Expect(q.Modes()).To(Equal([]string{"plan", "acceptEdits"}))

			s, _ := h.reg.Session(string(id))
			Expect(s.Mode()).To(Equal(permission.ModeAcceptEdits))
		})

		It("keeps planning when the user declines", func() {
			h.client.Choose(func(acp.RequestPermissionRequest) string { return "plan" })
			res := canUse("ExitPlanMode", `{"plan":"1. do it"}`)
			Expect(res.Behavior).To(Equal(agentsdk.BehaviorDeny))
			Expect(res.Interrupt).To(BeTrue())
		})
	})

	Describe("hooks", func() {
		hook := func(ev agentsdk.HookEvent) agentsdk.HookCallback {
			return opts.Hooks[ev][0].Hooks[0]
		}

		It("reports settings decisions before a tool runs", func() {
			out, err := hook(agentsdk.HookPreToolUse)(h.ctx, agentsdk.HookInput{
				HookEventName: string(agentsdk.HookPreToolUse),
				ToolName:      permission.ToolRead,
				ToolInput:     json.RawMessage(`{"file_path":"/x"}`),
			}, "toolu_h")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Continue).To(BeTrue())
			Expect(out.HookSpecificOutput).To(BeNil())

			h.writeFile(".claude/settings.json", `{"permissions":{"deny":["Read"]}}`)
			Eventually(func() *agentsdk.HookSpecificOutput {
				out, _ := hook(agentsdk.HookPreToolUse)(h.ctx, agentsdk.HookInput{
					ToolName:  permission.ToolRead,
					ToolInput: json.RawMessage(`{"file_path":"/x"}`),
				}, "toolu_h")
				return out.HookSpecificOutput
			}).WithTimeout(3 * time.Second).Should(And(
				HaveField("PermissionDecision", "deny"),
				HaveField("PermissionDecisionReason", "Denied by settings rule: Read"),
			))
		})

		It("attaches the tool response once", func() {
			q.reply(assistant(toolUse("toolu_r", "mcp__acp__Read", `{"file_path":"/x"}`)), result(agentsdk.ResultSuccess))
			_, err := h.prompt(id, acp.TextBlock("read it"))
			Expect(err).NotTo(HaveOccurred())
			h.client.Reset()

			post := hook(agentsdk.HookPostToolUse)
			in := agentsdk.HookInput{ToolName: "mcp__acp__Read", ToolResponse: json.RawMessage(`{"lines":3}`)}
			_, err = post(h.ctx, in, "toolu_r")
			Expect(err).NotTo(HaveOccurred())
			_, err = post(h.ctx, in, "toolu_r")
			Expect(err).NotTo(HaveOccurred())

			updates := ofKind(h.client.Wire(), "tool_call_update")
			Expect(updates).To(HaveLen(1))
			Expect(updates[0]).NotTo(HaveKey("rawOutput"))
			raw, _ := json.Marshal(updates[0]["_meta"])
			Expect(raw).To(MatchJSON(`{"claudeCode":{"toolResponse":{"lines":3}}}`))
		})

		It("follows the runtime into plan mode", func() {
			q.reply(assistant(toolUse("toolu_e", "EnterPlanMode", `{}`)), result(agentsdk.ResultSuccess))
			_, err := h.prompt(id, acp.TextBlock("plan first"))
			Expect(err).NotTo(HaveOccurred())
			h.client.Reset()

			_, err = hook(agentsdk.HookPostToolUse)(h.ctx, agentsdk.HookInput{ToolName: "EnterPlanMode"}, "toolu_e")
			Expect(err).NotTo(HaveOccurred())

			modes := ofKind(h.client.Wire(), "current_mode_update")
			Expect(modes).To(HaveLen(1))
			Expect(modes[0]["currentModeId"]).To(Equal("plan"))
			s, _ := h.reg.Session(string(id))
			Expect(s.Mode()).To(Equal(permission.ModePlan))
			Expect(q.Modes()).To(BeEmpty())
		})
	})
})
