package workflow

import "testing"

func TestRouteDeclaredEvents(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{EventBegin, WorkflowClaimsUpload},
		{EventUpload, WorkflowClaimsUpload},
		{EventReset, WorkflowClaimsUpload},
		{EventConfirm, WorkflowVisitPrep},
		{EventFinish, WorkflowVisitPrep},
		{EventProvideID, WorkflowRun},
		{EventValidateOK, WorkflowRun},
	}

	for _, tc := range tests {
		got, ok := Route(tc.event)
		if !ok {
			t.Errorf("Route(%q) not found", tc.event)
			continue
		}
		if got != tc.want {
			t.Errorf("Route(%q) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestRouteUnknownEvent(t *testing.T) {
	if name, ok := Route("no_such_event"); ok {
		t.Errorf("Route returned %q for unknown event", name)
	}
}

func TestValidateRoutes(t *testing.T) {
	if err := ValidateRoutes(); err != nil {
		t.Errorf("ValidateRoutes failed: %v", err)
	}
}
