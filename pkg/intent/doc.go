// Package intent builds and signs intent tokens: the minimal, typed proposal
// that policy evaluation and the executor both act on.
//
// A token's signature is an HMAC-SHA256 over the RFC 8785 canonical JSON of
// its action, fields, nonce and issue time. Any change to those invalidates the
// token, and Verify reports it as a TokenTamperedError.
package intent
