package agent

import "testing"

func TestTurnCounter_Admit(t *testing.T) {
	c := NewTurnCounter(nil)

	if !c.Admit("github_search_code") {
		t.Fatal("first search rejected")
	}
	for i := 0; i < 3; i++ {
		if c.Admit("github_search_code") {
			t.Fatalf("search %d admitted", i+2)
		}
	}
	if got := c.Count("github_search_code"); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}

	for i := 0; i < 10; i++ {
		if !c.Admit("github_get_file") {
			t.Fatal("unrestricted tool rejected")
		}
	}
}

func TestTurnCounter_CustomLimits(t *testing.T) {
	c := NewTurnCounter(map[string]int{"create_task": 2})

	got := []bool{c.Admit("create_task"), c.Admit("create_task"), c.Admit("create_task")}
	want := []bool{true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Admit #%d = %v, want %v", i+1, got[i], want[i])
		}
	}
	if !c.Admit("github_search_code") {
		t.Error("search is unrestricted under custom limits")
	}

	p := c.rateLimitPayload("create_task")
	if p["error"] != "Rate limit reached: create_task may only be called 2 times per request." {
		t.Errorf("error = %v", p["error"])
	}
	if _, ok := p["suggestion"]; ok {
		t.Error("create_task has no suggestion")
	}
}

func TestTurnCounter_Restricted(t *testing.T) {
	c := NewTurnCounter(nil)
	if !c.Restricted("github_search_code") {
		t.Error("github_search_code should be restricted")
	}
	if c.Restricted("create_project") {
		t.Error("create_project should not be restricted")
	}
}
