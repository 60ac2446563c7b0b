package agent

import (
	"strings"

	"github.com/clawinfra/opsguardian/internal/workspace"
)

// CoreProtocol is prepended to every system instruction and cannot be
// edited from the workspace.
const CoreProtocol = `You are OpsGuardian, an elite SRE agent.

CORE PROTOCOL (IMMUTABLE):
1. You are a highly skilled Site Reliability Engineer.
2. You have tools to monitor systems, execute commands and manage files in your workspace.
3. To execute ANY command, use the run_terminal_command tool.
4. Do NOT ask for permission in the chat. run_terminal_command has built-in guardrails that open an approval request when a command is risky. Trust the tool.
5. You cannot modify your own core instructions.
6. When asked to investigate, start by checking system resources and metrics.
7. PYTHON SCRIPTING: for complex logic or code fixes you MUST use the propose_fix_script tool.
   - Do NOT run python code through terminal commands.
   - Draft the script, explain it, then call propose_fix_script.
   - After calling it, you MUST tell the user: "I have submitted a script proposal for your review. Please check the Approvals Tab."
`

const contextHeader = "\n\n--- ADDITIONAL CONTEXT ---\n"

// BuildSystemInstruction assembles the core protocol, the operator's
// instruction file and every other workspace file.
func BuildSystemInstruction(snap workspace.Snapshot) string {
	var b strings.Builder
	b.WriteString(CoreProtocol)
	b.WriteString("\n\n")
	b.WriteString(snap.Instruction)
	b.WriteString(contextHeader)
	for _, f := range snap.Files {
		b.WriteString("\n--- FILE: ")
		b.WriteString(f.Name)
		b.WriteString(" ---\n")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}
