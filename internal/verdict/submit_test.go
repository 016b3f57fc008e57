package verdict

import "testing"

const validSubmitJSON = `{
  "schema_version": "scc.submit.v1",
  "task_id": "t1",
  "status": "DONE",
  "touched_files": ["src/a.go"],
  "tests": {"commands": ["go test ./..."], "passed": true, "summary": "ok"},
  "artifacts": {
    "report_md": "artifacts/report.md",
    "selftest_log": "artifacts/selftest.log",
    "evidence_dir": "artifacts/evidence",
    "patch_diff": "artifacts/patch.diff",
    "submit_json": "artifacts/submit.json"
  },
  "exit_code": 0
}`

func TestExtractSubmitLinePicksLastOccurrence(t *testing.T) {
	stdout := "SUBMIT: {\"bad\":true}\nsome logs\nSUBMIT: {\"good\":true}"
	raw, ok := ExtractSubmitLine(stdout)
	if !ok {
		t.Fatalf("expected a SUBMIT line")
	}
	if raw != `{"good":true}` {
		t.Fatalf("raw = %q, want last occurrence", raw)
	}
}

func TestParseSubmitValidatesSchema(t *testing.T) {
	s, err := ParseSubmit(validSubmitJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Status != SubmitDone {
		t.Fatalf("status = %v, want DONE", s.Status)
	}
}

func TestParseSubmitRejectsMissingRequiredFields(t *testing.T) {
	_, err := ParseSubmit(`{"schema_version":"scc.submit.v1"}`)
	if err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestResolveSubmitPrefersRawOverAgentMessage(t *testing.T) {
	raw := "SUBMIT: " + validSubmitJSON
	agentMsg := `SUBMIT: {"schema_version":"scc.submit.v1","task_id":"t1","status":"FAILED","tests":{"commands":[],"passed":false},"artifacts":{"report_md":"artifacts/r.md","selftest_log":"artifacts/s.log","evidence_dir":"artifacts/e","patch_diff":"artifacts/p.diff","submit_json":"artifacts/s.json"}}`
	s, found, err := ResolveSubmit(raw, agentMsg)
	if err != nil || !found {
		t.Fatalf("resolve: found=%v err=%v", found, err)
	}
	if s.Status != SubmitDone {
		t.Fatalf("expected raw SUBMIT (DONE) to win over agent-message SUBMIT (FAILED), got %v", s.Status)
	}
}

func TestExtractPatchStatsCountsAddedRemoved(t *testing.T) {
	stdout := "*** Begin Patch\n*** Update File: src/a.go\n@@\n+line added\n-line removed\n*** End Patch\n"
	stats := ExtractPatchStats(stdout)
	if stats == nil {
		t.Fatalf("expected patch stats")
	}
	if stats.Added != 1 || stats.Removed != 1 || stats.Hunks != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Files) != 1 || stats.Files[0] != "src/a.go" {
		t.Fatalf("files = %v", stats.Files)
	}
}

func TestCheckHygieneFlagsTouchedFileOutsideAllowPaths(t *testing.T) {
	s, err := ParseSubmit(validSubmitJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result := CheckHygiene(s, []string{"docs/"})
	if result.OK {
		t.Fatalf("expected hygiene violation for touched file outside allow paths")
	}
}

func TestCheckHygieneAcceptsMatchingPaths(t *testing.T) {
	s, err := ParseSubmit(validSubmitJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result := CheckHygiene(s, []string{"src/"})
	if !result.OK {
		t.Fatalf("expected hygiene pass, got reason %v", result.Reason)
	}
}
