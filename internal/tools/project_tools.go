package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opbridge/opbridge/internal/openproject"
)

// maxDetails bounds the upstream response excerpt in error payloads.
const maxDetails = 2000

// openProjectTools executes project and task tools against one
// OpenProject instance.
type openProjectTools struct {
	client *openproject.Client
	logger *slog.Logger
}

// ProjectTools returns the OpenProject project and task tools.
func ProjectTools(client *openproject.Client, logger *slog.Logger) []*Tool {
	if logger == nil {
		logger = slog.Default()
	}
	o := &openProjectTools{client: client, logger: logger}

	return []*Tool{
		{
			Name:        "create_project",
			Description: "Create a new project with a name and optional description, public status and status explanation",
			Parameters: object([]string{"name"}, map[string]any{
				"name":               prop("string", "Project name"),
				"public":             prop("boolean", "Whether the project is public"),
				"description":        prop("string", "Project description"),
				"status_explanation": prop("string", "Explanation of the project completion status (status is: NOT STARTED)"),
			}),
			Handler: o.createProject,
		},
		{
			Name:        "update_project",
			Description: "Update an existing project using the project name and by providing an optional new name, description, public status and/or status explanation",
			Parameters: object([]string{"name"}, map[string]any{
				"name":                 prop("string", "Current project name"),
				"newName":              prop("string", "New project name"),
				"newPublic":            prop("boolean", "New public status (whether the project is public or not)"),
				"newDescription":       prop("string", "New Project description"),
				"newStatusExplanation": prop("string", "New explanation of the project status"),
			}),
			Handler: o.updateProject,
		},
		{
			Name:        "create_task",
			Description: "Create tasks for a new project with a subject, description, start date, due date, and priority level",
			Parameters: object([]string{"projectName", "subject", "startDate", "dueDate"}, map[string]any{
				"projectName": prop("string", "Project name to which the task belongs"),
				"subject":     prop("string", "Task subject/title"),
				"description": prop("string", "Task description"),
				"startDate":   prop("string", "Task start date in YYYY-MM-DD format"),
				"dueDate":     prop("string", "Task due date in YYYY-MM-DD format"),
				"priority":    priorityProp("Task priority level (low, medium, high, immediate)"),
			}),
			Handler: o.createTask,
		},
		{
			Name:        "update_task",
			Description: "Update a task using the associated project name and task subject, and by providing an optional new subject, description, start date, due date, and/or priority level",
			Parameters: object([]string{"projectName", "subject"}, map[string]any{
				"projectName":    prop("string", "Project name to which the task belongs"),
				"subject":        prop("string", "Current task subject/title"),
				"newSubject":     prop("string", "New task subject/title"),
				"newDescription": prop("string", "New task description"),
				"newStartDate":   prop("string", "New task start date in YYYY-MM-DD format"),
				"newDueDate":     prop("string", "New task due date in YYYY-MM-DD format"),
				"newPriority":    priorityProp("New task priority level (low, medium, high, immediate)"),
			}),
			Handler: o.updateTask,
		},
	}
}

func priorityProp(description string) map[string]any {
	p := prop("string", description)
	p["enum"] = openproject.PriorityNames
	return p
}

// failurePayload adds the upstream status and body excerpt to echo.
func failurePayload(msg string, resp *openproject.Response, echo map[string]any) map[string]any {
	echo["error"] = msg
	echo["status_code"] = resp.StatusCode
	echo["details"] = resp.Details(maxDetails)
	return echo
}

// resolveProject finds the first project matching name. When the lookup
// itself fails upstream it returns a failure payload instead.
func (o *openProjectTools) resolveProject(ctx context.Context, name string, echo map[string]any) (*openproject.Project, map[string]any, error) {
	p, resp, err := o.client.FindProject(ctx, name)
	switch {
	case errors.Is(err, openproject.ErrNotFound):
		return nil, nil, notFound(err, "no project matching %q", name)
	case err != nil:
		return nil, nil, upstream(err, "project lookup failed")
	case p == nil:
		return nil, failurePayload("Failed to look up project", resp, echo), nil
	}

	o.logger.Debug("project resolved", "query", name, "id", p.ID, "name", p.Name)
	return p, nil, nil
}

func (o *openProjectTools) createProject(ctx context.Context, args map[string]any) (any, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	public, err := boolArg(args, "public", true)
	if err != nil {
		return nil, err
	}
	description, err := stringArg(args, "description", "")
	if err != nil {
		return nil, err
	}
	statusExplanation, err := stringArg(args, "status_explanation", "")
	if err != nil {
		return nil, err
	}

	resp, err := o.client.CreateProject(ctx, openproject.NewProject{
		Name:              name,
		Public:            public,
		Description:       description,
		StatusExplanation: statusExplanation,
	})
	if err != nil {
		return nil, upstream(err, "create project failed")
	}

	out := map[string]any{
		"name":               name,
		"public":             public,
		"description":        description,
		"status_explanation": statusExplanation,
		"status_code":        resp.StatusCode,
	}
	if !resp.OK() {
		return failurePayload("Failed to create project", resp, out), nil
	}

	var created openproject.Project
	if resp.Decode(&created) == nil && created.ID != 0 {
		out["id"] = created.ID
		out["identifier"] = created.Identifier
	}
	o.logger.Info("project created", "name", name, "id", created.ID)
	return out, nil
}

func (o *openProjectTools) updateProject(ctx context.Context, args map[string]any) (any, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}

	var patch openproject.ProjectPatch
	if patch.Name, err = optString(args, "newName"); err != nil {
		return nil, err
	}
	if patch.Public, err = optBool(args, "newPublic"); err != nil {
		return nil, err
	}
	if patch.Description, err = optString(args, "newDescription"); err != nil {
		return nil, err
	}
	if patch.StatusExplanation, err = optString(args, "newStatusExplanation"); err != nil {
		return nil, err
	}

	out := map[string]any{
		"name":                 name,
		"newName":              deref(patch.Name),
		"newPublic":            deref(patch.Public),
		"newDescription":       deref(patch.Description),
		"newStatusExplanation": deref(patch.StatusExplanation),
	}

	project, failed, err := o.resolveProject(ctx, name, out)
	if err != nil || failed != nil {
		return failed, err
	}

	resp, err := o.client.UpdateProject(ctx, project.ID, patch)
	if err != nil {
		return nil, upstream(err, "update project failed")
	}

	out["id"] = project.ID
	out["status_code"] = resp.StatusCode
	if !resp.OK() {
		return failurePayload("Failed to update project", resp, out), nil
	}
	o.logger.Info("project updated", "id", project.ID, "name", project.Name)
	return out, nil
}
