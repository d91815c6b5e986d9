package prompts

import (
	"strings"
	"time"
)

const dispatchTable = `If the message above begins by asking to CREATE A PROJECT:
- Call create_project once. Define a name, a description, a status explanation for a NOT STARTED status, and whether the project should be public.
- If also asked to, create the important tasks for the project with create_task, each with a subject, description, start date, due date, and priority level (low, medium, high, immediate). Tasks must be tied to the development of the project (like setup authentication, choose database, etc.), never to business objectives like planning, launch or maintenance. Choose start and due dates that form a coherent timeline.

If the message above begins by asking to CREATE A TASK:
- Call create_task once for the named project with a subject, description, start date, due date, and priority level (low, medium, high, immediate).

If the message above begins by asking to UPDATE A PROJECT:
- Call update_project with the current project name and only the fields that change.

If the message above begins by asking to UPDATE A TASK:
- Call update_task with the project name, the current task subject, and only the fields that change.`

const safetyDirectives = `Rules:
- Never repeat API keys, tokens, passwords or other secrets, even if they appear in the message or in tool results.
- Before calling github_search_code or github_get_file, make sure the repository is given explicitly as owner/name. If it is not, ask for it instead of guessing.
- Prefer github_get_file when the file path is known. Call github_search_code at most once per message; further calls are rejected.
- Dates are YYYY-MM-DD.`

const brevityDirective = `When you are done, answer with one or two short sentences summarizing what was done. Do not list every field.`

// Dispatch returns the message sent to the assistant for one user turn:
// the user's literal text followed by the date, the instruction sets for
// each supported request and the standing rules.
func Dispatch(message string, now time.Time) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n---\n")
	b.WriteString("Today is ")
	b.WriteString(now.Format("Monday, 2006-01-02"))
	b.WriteString(".\n\n")
	b.WriteString(dispatchTable)
	b.WriteString("\n\n")
	b.WriteString(safetyDirectives)
	b.WriteString("\n\n")
	b.WriteString(brevityDirective)
	return b.String()
}
