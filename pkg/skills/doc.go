// Package skills defines the named capabilities an agent exposes and the
// registry that indexes them.
//
// A Skill pairs a typed parameter schema with an execute function. Skills
// declare the event kinds they claim; a skill with no declared kinds is a
// generalist and is offered for every kind. The registry enforces unique
// names, answers kind lookups for the direct dispatcher, and converts its
// contents into callable tools for the AI dispatcher:
//
//	reg := skills.NewRegistry()
//	if err := reg.Register(skills.StoreEvent(db)); err != nil { ... }
//	tools := reg.ToTools(dctx)
//
// The built-in set covers event storage, follow-list application, deletion,
// queries, the agent info card and event forwarding. Handlers return a
// Result; failures carry one of the wire reject codes so the packet handler
// can map them straight onto reject packets.
package skills
