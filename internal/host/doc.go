// Package host runs the interpreter module on wazero and owns the loader
// state the snapshot engine reconciles: compiled library descriptors, the
// dlopen handle table and the instance's linear memory.
//
// A Host is an arena scoped to one sandboxed instance. Library descriptors
// are never released individually; Close drops the runtime together with
// everything compiled in it.
package host
