// Package mcp implements the Model Context Protocol (MCP), a bidirectional
// JSON-RPC 2.0 conversation that lets a host application discover and invoke
// capabilities exposed by a tool provider: callable tools, readable resources,
// prompt templates, completions, and model-sampling delegation. This
// implementation follows the protocol revision published at
// https://spec.modelcontextprotocol.io/specification/.
//
// The Session type carries the protocol core; Client and Server are thin role
// façades over it, and the StdIO and SSE types supply the built-in transports.
package mcp
