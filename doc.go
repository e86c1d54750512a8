// Package statefabric is the public facade over the statechart interpreter,
// definition loader, and multi-machine orchestrator implemented under
// internal/. It re-exports just enough to load a wire JSON definition, bind
// it to host action/guard tables, run it, and route events to and from
// sibling machines, without requiring callers to import internal/core,
// internal/loader and internal/orchestrator directly.
//
// A minimal program:
//
//	graph, err := statefabric.Load(definitionJSON)
//	m, err := statefabric.NewMachine("station-1", graph.Graph, actions, guards)
//	m.Start()
//	m.Send(statefabric.NewEvent("LOAD_WAFER", nil))
//
// Multi-machine programs register each Machine with an Orchestrator so
// their actions can reach each other via ActionContext.RequestSend:
//
//	orch := statefabric.NewOrchestrator()
//	orch.Register("station-1", m)
package statefabric
