package openproject

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", "test-key", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func elements(items ...map[string]any) map[string]any {
	return map[string]any{
		"total":     len(items),
		"_embedded": map[string]any{"elements": items},
	}
}

func TestFindProject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/projects", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "apikey" || pass != "test-key" {
			t.Errorf("basic auth = %q:%q (%v)", user, pass, ok)
		}
		var filters []map[string]map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters); err != nil {
			t.Fatalf("filters: %v", err)
		}
		f := filters[0]["name_and_identifier"]
		if f["operator"] != "~" {
			t.Errorf("operator = %v, want ~", f["operator"])
		}
		if vals := f["values"].([]any); len(vals) != 1 || vals[0] != "Apollo" {
			t.Errorf("values = %v", vals)
		}
		json.NewEncoder(w).Encode(elements(
			map[string]any{"id": 12, "name": "Apollo", "identifier": "apollo"},
			map[string]any{"id": 13, "name": "Apollo 2", "identifier": "apollo-2"},
		))
	})

	c := newTestClient(t, mux)
	p, resp, err := c.FindProject(context.Background(), "Apollo")
	if err != nil {
		t.Fatalf("FindProject: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if p.ID != 12 {
		t.Errorf("ID = %d, want 12 (first match)", p.ID)
	}
}

func TestFindProject_NoMatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/projects", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(elements())
	})

	c := newTestClient(t, mux)
	p, _, err := c.FindProject(context.Background(), "Nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if p != nil {
		t.Errorf("project = %+v, want nil", p)
	}
}

func TestFindProject_UpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/projects", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	})

	c := newTestClient(t, mux)
	p, resp, err := c.FindProject(context.Background(), "Apollo")
	if err != nil {
		t.Fatalf("non-2xx should not be an error: %v", err)
	}
	if p != nil || resp == nil || resp.OK() || resp.StatusCode != 401 {
		t.Fatalf("got project=%v resp=%+v", p, resp)
	}
	if resp.Details(5) != `{"mes` {
		t.Errorf("Details(5) = %q", resp.Details(5))
	}
}

func TestCreateProject_Payload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/projects", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["_type"] != "Project" || body["name"] != "Apollo Moon" {
			t.Errorf("body = %v", body)
		}
		if body["identifier"] != "apollo-moon" {
			t.Errorf("identifier = %v, want apollo-moon", body["identifier"])
		}
		if body["active"] != true || body["public"] != false {
			t.Errorf("active/public = %v/%v", body["active"], body["public"])
		}
		desc := body["description"].(map[string]any)
		if desc["format"] != "markdown" || desc["raw"] != "Lunar landing" {
			t.Errorf("description = %v", desc)
		}
		status := body["_links"].(map[string]any)["status"].(map[string]any)
		if status["href"] != NotStartedStatus {
			t.Errorf("status href = %v", status["href"])
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":99}`))
	})

	c := newTestClient(t, mux)
	resp, err := c.CreateProject(context.Background(), NewProject{
		Name:        "Apollo Moon",
		Public:      false,
		Description: "Lunar landing",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
}

func TestUpdateProject_OnlyProvidedFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v3/projects/12", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["name"] != "Artemis" || body["identifier"] != "artemis" {
			t.Errorf("name/identifier = %v/%v", body["name"], body["identifier"])
		}
		for _, k := range []string{"public", "description", "statusExplanation"} {
			if _, ok := body[k]; ok {
				t.Errorf("unexpected field %q in patch", k)
			}
		}
		w.Write([]byte(`{"id":12}`))
	})

	c := newTestClient(t, mux)
	name := "Artemis"
	resp, err := c.UpdateProject(context.Background(), 12, ProjectPatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if !resp.OK() {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestFindWorkPackage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/projects/12/work_packages", func(w http.ResponseWriter, r *http.Request) {
		var filters []map[string]map[string]any
		json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters)
		if _, ok := filters[0]["subject"]; !ok {
			t.Errorf("filters = %v, want subject filter", filters)
		}
		json.NewEncoder(w).Encode(elements(
			map[string]any{"id": 501, "subject": "Setup auth", "lockVersion": 4},
		))
	})

	c := newTestClient(t, mux)
	wp, _, err := c.FindWorkPackage(context.Background(), 12, "auth")
	if err != nil {
		t.Fatalf("FindWorkPackage: %v", err)
	}
	if wp.ID != 501 || wp.LockVersion != 4 {
		t.Errorf("work package = %+v", wp)
	}
}

func TestCreateWorkPackage_Payload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/projects/12/work_packages", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["percentageDone"] != float64(0) {
			t.Errorf("percentageDone = %v", body["percentageDone"])
		}
		if body["startDate"] != "2025-01-01" || body["dueDate"] != "2025-01-07" {
			t.Errorf("dates = %v..%v", body["startDate"], body["dueDate"])
		}
		prio := body["_links"].(map[string]any)["priority"].(map[string]any)
		if prio["href"] != "/api/v3/priorities/9" {
			t.Errorf("priority href = %v", prio["href"])
		}
		w.WriteHeader(http.StatusCreated)
	})

	c := newTestClient(t, mux)
	resp, err := c.CreateWorkPackage(context.Background(), 12, NewWorkPackage{
		Subject:    "Setup auth",
		StartDate:  "2025-01-01",
		DueDate:    "2025-01-07",
		PriorityID: 9,
	})
	if err != nil {
		t.Fatalf("CreateWorkPackage: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUpdateWorkPackage_SendsLockVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v3/work_packages/501", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["lockVersion"] != float64(4) {
			t.Errorf("lockVersion = %v, want 4", body["lockVersion"])
		}
		if body["subject"] != "Setup OAuth" {
			t.Errorf("subject = %v", body["subject"])
		}
		if _, ok := body["_links"]; ok {
			t.Error("priority link sent without a priority change")
		}
		w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mux)
	subject := "Setup OAuth"
	resp, err := c.UpdateWorkPackage(context.Background(), 501, WorkPackagePatch{LockVersion: 4, Subject: &subject})
	if err != nil {
		t.Fatalf("UpdateWorkPackage: %v", err)
	}
	if !resp.OK() {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPriorityID(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"low", 7, true},
		{"Medium", 8, true},
		{" HIGH ", 9, true},
		{"immediate", 10, true},
		{"urgent", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := PriorityID(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PriorityID(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIdentifier(t *testing.T) {
	if got := Identifier("Great Big Project"); got != "great-big-project" {
		t.Errorf("Identifier = %q", got)
	}
}
