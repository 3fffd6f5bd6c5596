// Package rpc exposes the gateway's capabilities over HTTP JSON-RPC.
//
// A single POST endpoint accepts {method, params} envelopes for the six
// capability operations: list_tools, call_tool, list_resources,
// read_resource, list_prompts, and get_prompt.
//
// Every operation is authorization-gated. The caller's identity comes out of
// the request context, placed there by the auth middleware, and is passed
// explicitly through each handler; nothing identity-related is stored on the
// server between requests. Listings are filtered to the capabilities the
// identity can use, and calls resolve names from that same filtered view, so
// an unauthorized capability is indistinguishable from one that does not
// exist.
//
// Success responses spread the result object beside the jsonrpc and id
// members. Failures use the standard error member; every capability failure
// shares one numeric code, with the failure kind carried in the message.
// Authentication failures ride HTTP 401 and permission failures 403;
// everything else is HTTP 200.
package rpc
