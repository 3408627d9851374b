package workflow

import (
	"fmt"
)

// routes is the declarative event -> workflow routing table. It replaces
// inline conditionals in the inbound message path: an event either has a
// declared route or is explicitly unrouted.
var routes = map[string]string{
	EventBegin:      WorkflowClaimsUpload,
	EventUpload:     WorkflowClaimsUpload,
	EventReset:      WorkflowClaimsUpload,
	EventConfirm:    WorkflowVisitPrep,
	EventFinish:     WorkflowVisitPrep,
	EventProvideID:  WorkflowRun,
	EventValidateOK: WorkflowRun,
}

// Route returns the workflow that handles the event. Unrouted events return
// false; there is no default workflow fallback.
func Route(event string) (string, bool) {
	name, ok := routes[event]
	return name, ok
}

// ValidateRoutes checks the routing table at startup: every route must target
// a declared workflow that accepts the event in at least one state.
func ValidateRoutes() error {
	for event, workflowName := range routes {
		w, ok := Lookup(workflowName)
		if !ok {
			return fmt.Errorf("route %q targets undeclared workflow %q", event, workflowName)
		}
		if !w.Accepts(event) {
			return fmt.Errorf("route %q targets workflow %q which never accepts it", event, workflowName)
		}
	}
	return nil
}
