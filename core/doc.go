// Package core defines the domain model shared by the REST surface, the RPC
// surface and the graph store.
//
// Landscapes are identified by a token. Runtime data (traces, spans,
// applications, functions) and static data (repositories, branches, commits,
// file revisions) hang off the landscape node in the graph.
//
// Admission is the request gate both surfaces use to stop taking work and
// drain in-flight requests on shutdown.
//
// Interfaces over these types are defined where they are consumed (api, rpc),
// not here.
package core
