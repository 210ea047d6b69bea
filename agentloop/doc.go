// Package agentloop drives a language model through multi-turn tool use.
//
// A run streams the model's response, executes the tool calls it makes one
// at a time, feeds the results back and repeats until the model stops on its
// own. Two queues let callers inject input while a run is active: steering
// messages interrupt the remaining tool calls of the current batch, and
// follow-up messages are delivered once the model would otherwise stop.
//
// # Architecture
//
//   - RunLoop / RunLoopContinue: the turn engine. Each run is one goroutine
//     publishing AgentEvents to an AgentEventStream that begins with
//     AgentStart and ends with exactly one AgentEnd.
//   - Agent: the stateful façade. It owns the history and queues, rejects
//     concurrent prompts, applies every event to AgentState before
//     listeners see it, and aborts runs without waiting for them.
//   - AgentTool / ToolRegistry: the tool contract and a name-keyed registry.
//     SchemaFor derives parameter schemas from Go structs.
//
// Model access goes through an llm.Streamer, normally an *llm.Registry, so
// the loop never depends on a concrete provider.
//
// # Quick Start
//
//	model, _ := llm.GetModel("anthropic", "claude-sonnet-4-5")
//	agent := agentloop.NewAgent(agentloop.AgentOptions{
//	    InitialState: &agentloop.AgentState{Model: model, Tools: tools},
//	    GetAPIKey:    cfg.APIKey,
//	})
//	agent.Subscribe(func(ev agentloop.AgentEvent) {
//	    if u, ok := ev.(agentloop.MessageUpdate); ok {
//	        if d, ok := u.Event.(llm.TextDeltaEvent); ok {
//	            fmt.Print(d.Delta)
//	        }
//	    }
//	})
//	if err := agent.Prompt(ctx, "Summarize README.md"); err != nil {
//	    log.Fatal(err)
//	}
//	_ = agent.WaitForIdle(ctx)
package agentloop
