package guardrail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clawinfra/opsguardian/internal/agent"
	"github.com/clawinfra/opsguardian/internal/channels"
	"github.com/clawinfra/opsguardian/internal/monitor"
	"github.com/clawinfra/opsguardian/internal/security"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

const (
	httpProbeTimeout = 5 * time.Second
	httpProbeMaxBody = 500
)

// ToolDeps are the collaborators the agent tools act through.
type ToolDeps struct {
	Guardrail  *Guardrail
	Workspace  *workspace.Workspace
	Monitors   *monitor.Checker
	Resources  func(ctx context.Context) (monitor.Resources, error)
	HTTPClient channels.HTTPClient
}

// RegisterTools exposes the guardrail, workspace and probes to the
// decision service.
func RegisterTools(reg *agent.Registry, deps ToolDeps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = channels.NewDefaultHTTPClient(&http.Client{Timeout: httpProbeTimeout})
	}
	t := &tools{deps: deps}

	reg.Register(agent.Tool{
		Schema:  agent.ToolSchema{Name: "list_files", Description: "Lists all files in the agent workspace. Takes no arguments."},
		Handler: t.listFiles,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "read_file",
			Description: "Reads the content of a file in the workspace.",
			Parameters:  agent.ObjectSchema(agent.Param{Name: "filename", Description: "Name of the file inside the workspace"}),
		},
		Handler: t.readFile,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "write_file",
			Description: "Writes content to a file in the workspace. Overwrites the file if it exists.",
			Parameters: agent.ObjectSchema(
				agent.Param{Name: "filename", Description: "Name of the file inside the workspace"},
				agent.Param{Name: "content", Description: "Full file content"},
			),
		},
		Handler: t.writeFile,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "delete_file",
			Description: "Deletes a file from the workspace.",
			Parameters:  agent.ObjectSchema(agent.Param{Name: "filename", Description: "Name of the file inside the workspace"}),
		},
		Handler: t.deleteFile,
	})
	reg.Register(agent.Tool{
		Schema:  agent.ToolSchema{Name: "check_system_metrics", Description: "Runs every configured health monitor and reports their output. Takes no arguments."},
		Handler: t.checkMetrics,
	})
	reg.Register(agent.Tool{
		Schema:  agent.ToolSchema{Name: "get_system_resources", Description: "Returns current CPU, memory and disk usage. Takes no arguments."},
		Handler: t.resources,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name: "run_terminal_command",
			Description: "Executes a terminal command. Commands whose executable is on the safe list (" +
				strings.Join(deps.Guardrail.SafeCommands(), ", ") +
				") run immediately. All other commands require human approval via the dashboard. " +
				"Pipes (|) are supported; redirection, globbing and && are not.",
			Parameters: agent.ObjectSchema(agent.Param{Name: "command", Description: "Command line to run"}),
		},
		Handler: t.runCommand,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "execute_service_restart",
			Description: "Requests a restart of the managed service. Does NOT execute immediately; opens an approval request.",
			Parameters:  agent.ObjectSchema(agent.Param{Name: "reason", Description: "Why the restart is needed", Optional: true}),
		},
		Handler: t.restart,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "propose_fix_script",
			Description: "Proposes a script to fix an issue. Does NOT execute it; the user reviews and runs it from the Approvals Tab.",
			Parameters: agent.ObjectSchema(
				agent.Param{Name: "script_content", Description: "The full script to execute"},
				agent.Param{Name: "description", Description: "Brief explanation of what the script does"},
			),
		},
		Handler: t.proposeScript,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "make_http_request",
			Description: "Makes an HTTP request to check whether a service is up.",
			Parameters: agent.ObjectSchema(
				agent.Param{Name: "url", Description: "The URL to request, e.g. http://localhost:8000/health"},
				agent.Param{Name: "method", Description: "GET or POST (default GET)", Optional: true},
			),
		},
		Handler: t.httpRequest,
	})
	reg.Register(agent.Tool{
		Schema: agent.ToolSchema{
			Name:        "send_alert",
			Description: "Sends a critical alert to the operations team.",
			Parameters:  agent.ObjectSchema(agent.Param{Name: "summary", Description: "Incident summary"}),
		},
		Handler: t.alert,
	})
}

type tools struct {
	deps ToolDeps
}

func (t *tools) listFiles(context.Context, agent.Args) (string, error) {
	names, err := t.deps.Workspace.List()
	if err != nil {
		return fmt.Sprintf("Error listing files: %v", err), nil
	}
	if len(names) == 0 {
		return "Workspace is empty.", nil
	}
	return "Workspace files: " + strings.Join(names, ", "), nil
}

func (t *tools) readFile(_ context.Context, args agent.Args) (string, error) {
	content, err := t.deps.Workspace.Read(args.String("filename"))
	if err != nil {
		return fileError("reading", err), nil
	}
	return content, nil
}

func (t *tools) writeFile(_ context.Context, args agent.Args) (string, error) {
	name := args.String("filename")
	if _, err := t.deps.Workspace.Write(workspace.OriginAgent, name, args.String("content")); err != nil {
		if errors.Is(err, workspace.ErrProtected) {
			return "Error: You cannot modify your own system instruction.", nil
		}
		return fileError("writing", err), nil
	}
	return "Successfully wrote to " + name, nil
}

func (t *tools) deleteFile(_ context.Context, args agent.Args) (string, error) {
	name := args.String("filename")
	if err := t.deps.Workspace.Delete(workspace.OriginAgent, name); err != nil {
		if errors.Is(err, workspace.ErrProtected) {
			return "Error: You cannot delete your own system instruction.", nil
		}
		return fileError("deleting", err), nil
	}
	return "Successfully deleted " + name, nil
}

func fileError(op string, err error) string {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return "Error: File does not exist."
	case errors.Is(err, workspace.ErrPathTraversal):
		return "Error: Access denied. Files must stay inside the workspace."
	case errors.Is(err, workspace.ErrQuotaExceeded):
		return "Error: " + err.Error()
	default:
		return fmt.Sprintf("Error %s file: %v", op, err)
	}
}

func (t *tools) checkMetrics(ctx context.Context, _ agent.Args) (string, error) {
	return monitor.Report(t.deps.Monitors.CheckAll(ctx)), nil
}

func (t *tools) resources(ctx context.Context, _ agent.Args) (string, error) {
	if t.deps.Resources == nil {
		return "Error fetching resources: " + monitor.ErrUnsupported.Error(), nil
	}
	r, err := t.deps.Resources(ctx)
	if err != nil {
		return fmt.Sprintf("Error fetching resources: %v", err), nil
	}
	return r.String(), nil
}

func (t *tools) runCommand(ctx context.Context, args agent.Args) (string, error) {
	command := args.String("command")
	out, err := t.deps.Guardrail.RunCommand(ctx, command)
	if err != nil {
		if errors.Is(err, security.ErrEmptyCommand) {
			return "Error: Empty command.", nil
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	if out.Executed {
		return "EXECUTION RESULT:\n" + out.Output, nil
	}
	return fmt.Sprintf("ACTION PAUSED [AWAITING_APPROVAL]. Command '%s' requires admin approval. Request ID: %s. Notify the user to check the Approvals Tab.",
		command, out.Request.ID), nil
}

func (t *tools) restart(ctx context.Context, args agent.Args) (string, error) {
	req := t.deps.Guardrail.RequestRestart(ctx, args.String("reason"))
	return fmt.Sprintf("ACTION PAUSED [AWAITING_APPROVAL]. Created Approval Request ID: %s. Notify the user to check the Approvals Tab.", req.ID), nil
}

func (t *tools) proposeScript(ctx context.Context, args agent.Args) (string, error) {
	if missing := agent.Missing(args, "script_content"); len(missing) > 0 {
		return "Error: script_content is required.", nil
	}
	req := t.deps.Guardrail.ProposeScript(ctx, args.String("script_content"), args.String("description"))
	return fmt.Sprintf("ACTION PAUSED [AWAITING_APPROVAL]. Script proposed. Request ID: %s. Notify the user to check the Approvals Tab to review and run the script.", req.ID), nil
}

func (t *tools) httpRequest(ctx context.Context, args agent.Args) (string, error) {
	method := http.MethodGet
	if strings.EqualFold(args.String("method"), http.MethodPost) {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, args.String("url"), nil)
	if err != nil {
		return fmt.Sprintf("Request failed: %v", err), nil
	}
	resp, err := t.deps.HTTPClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Request failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpProbeMaxBody))
	if err != nil {
		return fmt.Sprintf("Request failed: %v", err), nil
	}
	return fmt.Sprintf("Status Code: %d\nResponse: %s", resp.StatusCode, body), nil
}

func (t *tools) alert(ctx context.Context, args agent.Args) (string, error) {
	if err := t.deps.Guardrail.Alert(ctx, args.String("summary")); err != nil {
		return fmt.Sprintf("Failed to send alert: %v", err), nil
	}
	return "Alert sent to the operations team.", nil
}
