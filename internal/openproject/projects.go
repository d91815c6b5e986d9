package openproject

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// NotStartedStatus is the status new projects are created with.
const NotStartedStatus = "/api/v3/project_statuses/not_started"

// Project is the subset of a project resource the tools use.
type Project struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Public     bool   `json:"public"`
}

// Formattable is an OpenProject rich-text field.
type Formattable struct {
	Format string `json:"format"`
	Raw    string `json:"raw"`
}

// Markdown wraps raw text as a markdown formattable.
func Markdown(raw string) Formattable {
	return Formattable{Format: "markdown", Raw: raw}
}

// Link is a HAL link.
type Link struct {
	Href string `json:"href"`
}

// Identifier derives a project identifier from its display name.
func Identifier(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// NewProject describes a project to create.
type NewProject struct {
	Name              string
	Public            bool
	Description       string
	StatusExplanation string
}

func (p NewProject) payload() map[string]any {
	return map[string]any{
		"_type":             "Project",
		"name":              p.Name,
		"identifier":        Identifier(p.Name),
		"active":            true,
		"public":            p.Public,
		"description":       Markdown(p.Description),
		"statusExplanation": Markdown(p.StatusExplanation),
		"_links": map[string]any{
			"status": Link{Href: NotStartedStatus},
		},
	}
}

// ProjectPatch lists project fields to change. Nil fields are left alone.
type ProjectPatch struct {
	Name              *string
	Public            *bool
	Description       *string
	StatusExplanation *string
}

func (p ProjectPatch) payload() map[string]any {
	body := map[string]any{"_type": "Project"}
	if p.Name != nil {
		body["name"] = *p.Name
		body["identifier"] = Identifier(*p.Name)
	}
	if p.Public != nil {
		body["public"] = *p.Public
	}
	if p.Description != nil {
		body["description"] = Markdown(*p.Description)
	}
	if p.StatusExplanation != nil {
		body["statusExplanation"] = Markdown(*p.StatusExplanation)
	}
	return body
}

// FindProject returns the first project whose name or identifier
// contains name. A non-2xx lookup returns a nil project and the
// response with a nil error; no match returns [ErrNotFound].
func (c *Client) FindProject(ctx context.Context, name string) (*Project, *Response, error) {
	q := url.Values{}
	q.Set("filters", FilterParam("name_and_identifier", "~", name))

	resp, err := c.do(ctx, http.MethodGet, "/api/v3/projects", q, nil)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, nil
	}

	project, err := first[Project](resp)
	if err != nil {
		return nil, resp, fmt.Errorf("project %q: %w", name, err)
	}
	return project, resp, nil
}

// CreateProject creates a project with the "not started" status.
// OpenProject answers 201 on success.
func (c *Client) CreateProject(ctx context.Context, p NewProject) (*Response, error) {
	return c.do(ctx, http.MethodPost, "/api/v3/projects", nil, p.payload())
}

// UpdateProject patches the project with the given ID.
func (c *Client) UpdateProject(ctx context.Context, id int, p ProjectPatch) (*Response, error) {
	return c.do(ctx, http.MethodPatch, "/api/v3/projects/"+itoa(id), nil, p.payload())
}
