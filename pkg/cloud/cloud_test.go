package cloud

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/twinforge/twinforge/pkg/registry"
)

// scriptedTransport replays canned status codes per verb and records the
// calls it sees.
type scriptedTransport struct {
	status map[string][]int // verb -> successive status codes
	names  []string
	calls  []Call
}

func (s *scriptedTransport) transport(_ context.Context, call Call) (*Result, error) {
	s.calls = append(s.calls, call)

	queue := s.status[call.Verb]
	status := http.StatusOK
	if len(queue) > 0 {
		status = queue[0]
		s.status[call.Verb] = queue[1:]
	}
	return &Result{StatusCode: status, Names: s.names}, nil
}

func TestDeployFunction_ConvergesOnExistingFunction(t *testing.T) {
	tr := &scriptedTransport{status: map[string][]int{VerbCreate: {http.StatusConflict}}}
	a := NewAWSAdapter(tr.transport, zerolog.Nop())

	err := a.DeployFunction(context.Background(), FunctionDeployment{
		Name:        "hot_writer",
		Layer:       registry.LayerHotStorage,
		ArchivePath: "/cache/aws/l3hot_hot_writer.zip",
	})
	if err != nil {
		t.Fatalf("DeployFunction failed: %v", err)
	}

	if len(tr.calls) != 2 {
		t.Fatalf("got %d calls, want create then update: %v", len(tr.calls), tr.calls)
	}
	if tr.calls[0].Verb != VerbCreate || tr.calls[1].Verb != VerbUpdate {
		t.Errorf("verb sequence = %s, %s", tr.calls[0].Verb, tr.calls[1].Verb)
	}
	if tr.calls[1].Service != "lambda" {
		t.Errorf("update targeted service %s", tr.calls[1].Service)
	}
}

func TestExists_NotFoundIsAnAnswerNotAnError(t *testing.T) {
	tr := &scriptedTransport{status: map[string][]int{VerbGet: {http.StatusNotFound}}}
	a := NewAzureAdapter(tr.transport, zerolog.Nop())

	exists, err := a.Exists(context.Background(), ResourceRef{Service: "cosmos_db", Name: "factory-cosmos"})
	if err != nil {
		t.Fatalf("Exists returned error for a missing resource: %v", err)
	}
	if exists {
		t.Error("missing resource reported as existing")
	}

	exists, err = a.Exists(context.Background(), ResourceRef{Service: "cosmos_db", Name: "factory-cosmos"})
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("present resource reported as missing")
	}
}

func TestWithRetry_RecoversFromThrottling(t *testing.T) {
	tr := &scriptedTransport{status: map[string][]int{VerbDelete: {http.StatusTooManyRequests, http.StatusOK}}}
	a := NewGoogleAdapter(tr.transport, zerolog.Nop())

	if err := a.DeleteFunction(context.Background(), "cold_mover"); err != nil {
		t.Fatalf("throttled call did not recover: %v", err)
	}
	if len(tr.calls) != 2 {
		t.Errorf("got %d attempts, want 2", len(tr.calls))
	}
}

func TestWithRetry_FatalErrorIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{status: map[string][]int{VerbCreate: {http.StatusForbidden}}}
	a := NewAWSAdapter(tr.transport, zerolog.Nop())

	err := a.CreateDevice(context.Background(), DeviceTwin{ID: "pump-01"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassFatal {
		t.Fatalf("expected fatal APIError, got %v", err)
	}
	if len(tr.calls) != 1 {
		t.Errorf("fatal error retried: %d attempts", len(tr.calls))
	}
}

func TestListByPrefix_FiltersToPrefix(t *testing.T) {
	tr := &scriptedTransport{names: []string{"factory-device-1", "factory-device-2", "other-device"}}
	a := NewAWSAdapter(tr.transport, zerolog.Nop())

	refs, err := a.ListByPrefix(context.Background(), "iot_core", "factory-")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %v", len(refs), refs)
	}
	for _, ref := range refs {
		if ref.Service != "iot_core" {
			t.Errorf("ref carries service %s", ref.Service)
		}
	}
}

func TestCapabilityAccessors(t *testing.T) {
	tr := &scriptedTransport{}

	azure := NewAzureAdapter(tr.transport, zerolog.Nop())
	if _, ok := azure.Dashboard(); ok {
		t.Error("azure adapter claims a dashboard capability")
	}
	if _, ok := azure.TwinGraph(); !ok {
		t.Error("azure adapter missing its twin graph capability")
	}

	google := NewGoogleAdapter(tr.transport, zerolog.Nop())
	if _, ok := google.TwinGraph(); ok {
		t.Error("google adapter claims a twin graph capability")
	}
	if _, ok := google.Dashboard(); !ok {
		t.Error("google adapter missing its dashboard capability")
	}
}

func TestAPIError_IsMatchesByClass(t *testing.T) {
	err := NewNotFoundError(registry.ProviderAWS, "lambda", "hot_writer")
	if !errors.Is(err, &APIError{Class: ErrorClassNotFound}) {
		t.Error("class template did not match")
	}
	if errors.Is(err, &APIError{Class: ErrorClassFatal}) {
		t.Error("mismatched class matched")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound false for a not-found error")
	}
	if IsRetryable(err) {
		t.Error("not-found classified retryable")
	}
}
