package worker

import (
	"encoding/json"
	"testing"

	"ratchet/internal/ipc"
)

func TestRuntimeExecuteAddNumbers(t *testing.T) {
	rt, err := NewRuntime(8)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	task := TaskSource{Name: "addNumbers", Script: "(input) => input.a + input.b"}
	output, err := rt.Execute(task, json.RawMessage(`{"a":5,"b":10}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(output) != "15" {
		t.Fatalf("expected 15, got %s", output)
	}
}

func TestRuntimeValidateCompileError(t *testing.T) {
	rt, _ := NewRuntime(8)
	task := TaskSource{Name: "broken", Script: "(input) => {"}
	if err := rt.Validate(task); err == nil {
		t.Fatal("expected validation error for malformed script")
	}
}

func TestDispatcherExecuteHappyPath(t *testing.T) {
	clientR, workerW := newPipe()
	workerR, clientW := newPipe()

	rt, _ := NewRuntime(8)
	resolve := func(ref string) (TaskSource, error) {
		return TaskSource{Name: ref, Script: "(input) => input.a + input.b"}, nil
	}
	d := NewDispatcher("w1", rt, resolve)
	workerTransport := ipc.NewTransport(workerR, workerW)
	clientTransport := ipc.NewTransport(clientR, clientW)

	done := make(chan error, 1)
	go func() { done <- d.Run(workerTransport) }()

	status, err := clientTransport.Recv()
	if err != nil {
		t.Fatalf("recv status: %v", err)
	}
	if status.Payload.Type != ipc.TypeStatus || status.Payload.State != string(StateReady) {
		t.Fatalf("expected Ready status, got %+v", status.Payload)
	}

	req := ipc.NewEnvelope(ipc.Payload{
		Type:          ipc.TypeExecuteTask,
		CorrelationID: "corr-1",
		TaskSource:    "addNumbers",
		Input:         json.RawMessage(`{"a":5,"b":10}`),
	})
	if err := clientTransport.Send(req); err != nil {
		t.Fatalf("send execute: %v", err)
	}

	resp, err := clientTransport.Recv()
	if err != nil {
		t.Fatalf("recv result: %v", err)
	}
	if !resp.Payload.Success || string(resp.Payload.Output) != "15" {
		t.Fatalf("unexpected result: %+v", resp.Payload)
	}

	shutdown := ipc.NewEnvelope(ipc.Payload{Type: ipc.TypeShutdown})
	if err := clientTransport.Send(shutdown); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatcher run returned error: %v", err)
	}
}
