// Package tools provides the built-in coding tools: read, write, edit and
// bash. Each is an agentloop.AgentTool operating on an Environment.
package tools

import (
	"github.com/martinemde/harness/agentloop"
)

// All returns every built-in tool bound to env.
func All(env *Environment) []agentloop.AgentTool {
	return []agentloop.AgentTool{
		Read(env),
		Write(env),
		Edit(env),
		Bash(env),
	}
}

// Register adds every built-in tool bound to env to reg.
func Register(reg *agentloop.ToolRegistry, env *Environment) {
	for _, t := range All(env) {
		reg.Register(t)
	}
}
