// Package agent holds the sub-agents a conversation can be routed to.
//
// A Registry is an explicit value passed to whatever needs it; nothing is
// registered globally. Each agent names the agents it may hand off to,
// and those handoffs are offered to the model as tools named
// "transfer_to_<agent>":
//
//	reg := agent.NewRegistry()
//	reg.MustRegister(agent.Agent{
//	    Name:         "tutor",
//	    Model:        "gpt-4o-mini",
//	    Instructions: "Answer only with guiding questions.",
//	    Handoffs:     []string{"physics"},
//	})
//	reg.MustRegister(agent.Agent{Name: "physics", Instructions: "..."})
//
//	tools := reg.Tools("tutor") // [transfer_to_physics]
//	next, ok := reg.Resolve("transfer_to_physics")
//
// The first registered agent is the default for a thread whose agent
// slot is empty.
package agent
