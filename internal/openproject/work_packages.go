package openproject

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Priority IDs as seeded by a stock OpenProject install.
var priorities = map[string]int{
	"low":       7,
	"medium":    8,
	"high":      9,
	"immediate": 10,
}

// PriorityNames lists the accepted priority names in ascending order.
var PriorityNames = []string{"low", "medium", "high", "immediate"}

// PriorityID maps a case-insensitive priority name to its ID.
func PriorityID(name string) (int, bool) {
	id, ok := priorities[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// PriorityHref returns the API link for a priority ID.
func PriorityHref(id int) string {
	return "/api/v3/priorities/" + itoa(id)
}

// WorkPackage is the subset of a work package resource the tools use.
type WorkPackage struct {
	ID          int    `json:"id"`
	Subject     string `json:"subject"`
	LockVersion int    `json:"lockVersion"`
}

// NewWorkPackage describes a task to create. PriorityID must come from
// [PriorityID].
type NewWorkPackage struct {
	Subject     string
	Description string
	StartDate   string
	DueDate     string
	PriorityID  int
}

func (w NewWorkPackage) payload() map[string]any {
	return map[string]any{
		"subject":        w.Subject,
		"description":    Markdown(w.Description),
		"startDate":      w.StartDate,
		"dueDate":        w.DueDate,
		"percentageDone": 0,
		"_links": map[string]any{
			"priority": Link{Href: PriorityHref(w.PriorityID)},
		},
	}
}

// WorkPackagePatch lists fields to change. LockVersion is required by
// OpenProject; stale versions are rejected with 409.
type WorkPackagePatch struct {
	LockVersion int
	Subject     *string
	Description *string
	StartDate   *string
	DueDate     *string
	PriorityID  *int
}

func (w WorkPackagePatch) payload() map[string]any {
	body := map[string]any{"lockVersion": w.LockVersion}
	if w.Subject != nil {
		body["subject"] = *w.Subject
	}
	if w.Description != nil {
		body["description"] = Markdown(*w.Description)
	}
	if w.StartDate != nil {
		body["startDate"] = *w.StartDate
	}
	if w.DueDate != nil {
		body["dueDate"] = *w.DueDate
	}
	if w.PriorityID != nil {
		body["_links"] = map[string]any{
			"priority": Link{Href: PriorityHref(*w.PriorityID)},
		}
	}
	return body
}

func workPackagesPath(projectID int) string {
	return "/api/v3/projects/" + itoa(projectID) + "/work_packages"
}

// FindWorkPackage returns the first work package in the project whose
// subject contains subject. Lookup semantics match [Client.FindProject].
func (c *Client) FindWorkPackage(ctx context.Context, projectID int, subject string) (*WorkPackage, *Response, error) {
	q := url.Values{}
	q.Set("filters", FilterParam("subject", "~", subject))

	resp, err := c.do(ctx, http.MethodGet, workPackagesPath(projectID), q, nil)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, nil
	}

	wp, err := first[WorkPackage](resp)
	if err != nil {
		return nil, resp, fmt.Errorf("task %q: %w", subject, err)
	}
	return wp, resp, nil
}

// CreateWorkPackage creates a task in the project. OpenProject answers
// 201 on success.
func (c *Client) CreateWorkPackage(ctx context.Context, projectID int, w NewWorkPackage) (*Response, error) {
	return c.do(ctx, http.MethodPost, workPackagesPath(projectID), nil, w.payload())
}

// UpdateWorkPackage patches the work package with the given ID.
func (c *Client) UpdateWorkPackage(ctx context.Context, id int, w WorkPackagePatch) (*Response, error) {
	return c.do(ctx, http.MethodPatch, "/api/v3/work_packages/"+itoa(id), nil, w.payload())
}
