package tools

import (
	"context"
	"errors"

	"github.com/opbridge/opbridge/internal/openproject"
)

// priorityID validates a priority name. It runs before any HTTP call so
// a bad priority never reaches OpenProject.
func priorityID(name string) (int, error) {
	id, ok := openproject.PriorityID(name)
	if !ok {
		return 0, invalidArgument("unknown priority %q (valid: low, medium, high, immediate)", name)
	}
	return id, nil
}

func (o *openProjectTools) createTask(ctx context.Context, args map[string]any) (any, error) {
	projectName, err := requireString(args, "projectName")
	if err != nil {
		return nil, err
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}
	startDate, err := requireString(args, "startDate")
	if err != nil {
		return nil, err
	}
	dueDate, err := requireString(args, "dueDate")
	if err != nil {
		return nil, err
	}
	description, err := stringArg(args, "description", "")
	if err != nil {
		return nil, err
	}
	priority, err := stringArg(args, "priority", "medium")
	if err != nil {
		return nil, err
	}
	prio, err := priorityID(priority)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"projectName": projectName,
		"subject":     subject,
		"startDate":   startDate,
		"dueDate":     dueDate,
		"description": description,
		"priority":    priority,
	}

	project, failed, err := o.resolveProject(ctx, projectName, out)
	if err != nil || failed != nil {
		return failed, err
	}

	resp, err := o.client.CreateWorkPackage(ctx, project.ID, openproject.NewWorkPackage{
		Subject:     subject,
		Description: description,
		StartDate:   startDate,
		DueDate:     dueDate,
		PriorityID:  prio,
	})
	if err != nil {
		return nil, upstream(err, "create task failed")
	}

	out["status_code"] = resp.StatusCode
	if !resp.OK() {
		return failurePayload("Failed to create task", resp, out), nil
	}

	var created openproject.WorkPackage
	if resp.Decode(&created) == nil && created.ID != 0 {
		out["id"] = created.ID
	}
	o.logger.Info("task created", "project_id", project.ID, "subject", subject, "id", created.ID)
	return out, nil
}

func (o *openProjectTools) updateTask(ctx context.Context, args map[string]any) (any, error) {
	projectName, err := requireString(args, "projectName")
	if err != nil {
		return nil, err
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}

	var patch openproject.WorkPackagePatch
	if patch.Subject, err = optString(args, "newSubject"); err != nil {
		return nil, err
	}
	if patch.Description, err = optString(args, "newDescription"); err != nil {
		return nil, err
	}
	if patch.StartDate, err = optString(args, "newStartDate"); err != nil {
		return nil, err
	}
	if patch.DueDate, err = optString(args, "newDueDate"); err != nil {
		return nil, err
	}
	newPriority, err := optString(args, "newPriority")
	if err != nil {
		return nil, err
	}
	if newPriority != nil {
		id, err := priorityID(*newPriority)
		if err != nil {
			return nil, err
		}
		patch.PriorityID = &id
	}

	out := map[string]any{
		"projectName":    projectName,
		"subject":        subject,
		"newSubject":     deref(patch.Subject),
		"newDescription": deref(patch.Description),
		"newStartDate":   deref(patch.StartDate),
		"newDueDate":     deref(patch.DueDate),
		"newPriority":    deref(newPriority),
	}

	project, failed, err := o.resolveProject(ctx, projectName, out)
	if err != nil || failed != nil {
		return failed, err
	}

	wp, resp, err := o.client.FindWorkPackage(ctx, project.ID, subject)
	switch {
	case errors.Is(err, openproject.ErrNotFound):
		return nil, notFound(err, "no task matching %q in project %q", subject, project.Name)
	case err != nil:
		return nil, upstream(err, "task lookup failed")
	case wp == nil:
		return failurePayload("Failed to look up task", resp, out), nil
	}

	patch.LockVersion = wp.LockVersion
	resp, err = o.client.UpdateWorkPackage(ctx, wp.ID, patch)
	if err != nil {
		return nil, upstream(err, "update task failed")
	}

	out["id"] = wp.ID
	out["status_code"] = resp.StatusCode
	if !resp.OK() {
		return failurePayload("Failed to update task", resp, out), nil
	}
	o.logger.Info("task updated", "id", wp.ID, "lock_version", wp.LockVersion)
	return out, nil
}
