package guardrail

import "fmt"

func approvalsLink(frontendURL string) string {
	return fmt.Sprintf("[OPEN APPROVALS DASHBOARD](%s/?tab=approvals)", frontendURL)
}

func commandNotice(command, frontendURL string) string {
	return fmt.Sprintf("🛡️ **PERMISSION REQUIRED**\nAI Agent wants to run: `%s`\n\n%s", command, approvalsLink(frontendURL))
}

func restartNotice(reason, frontendURL string) string {
	return fmt.Sprintf("🛡️ **PERMISSION REQUIRED**\nAI Agent wants to: **RESTART SERVICE**\nReason: %s\n\n%s", reason, approvalsLink(frontendURL))
}

func scriptNotice(description, frontendURL string) string {
	return fmt.Sprintf("🐍 **SCRIPT PROPOSAL**\nAI Agent wants to run a script.\nReason: %s\n\n%s", description, approvalsLink(frontendURL))
}

func alertNotice(summary, frontendURL string) string {
	return fmt.Sprintf("🚨 **OPS-GUARDIAN ALERT** 🚨\n%s\n\n[CLICK TO AUTHORIZE RESTART](%s/?action=review_incident)", summary, frontendURL)
}
