// Package admission implements the policy gate every resource passes through
// before it may be written to the cluster.
//
// The engine evaluates a resource against a rule set in three modes:
//
//   - validate: all matching rules run in deterministic (lexical) order and
//     every matching rule is evaluated even after a failure, so the violation
//     list is complete in one pass.
//   - mutate: patches apply in rule order and each subsequent rule sees the
//     already-mutated document. Validation runs after all mutation and
//     reports against the final document; a mutation that trips a later
//     validate rule is not auto-reverted.
//   - generate: matching rules materialize companion resources that join the
//     desired set and travel through the same graph and admission flow.
//
// Exceptions are subtractive only: an exception removes matched resources
// from a rule's enforcement scope and every skip is recorded for the audit
// trail. An exception can never grant a capability a rule does not already
// control.
//
// Policies and exceptions are themselves loaded as resources. A rule is never
// evaluated against the resource that defines it, so a policy cannot lock out
// its own updates.
package admission
