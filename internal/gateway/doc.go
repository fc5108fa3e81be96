// Package gateway turns an inbound realtime-connection request into an
// admitted session on a specific room actor.
//
// # Admission sequence
//
// A connection request carries four parameters: a bearer credential, a
// tenant id, a conversation kind (direct or group), and a conversation id.
// The gateway refuses the request before upgrading the transport when:
//
//   - any parameter is missing (missing-parameters)
//   - the credential fails verification, or the verified role is not the
//     end-user role (unauthenticated) — hosts never join rooms
//   - the subject is not a member of the tenant (not-a-member)
//   - a group conversation names a group absent from the tenant
//     (conversation-not-found) or one the subject is not in
//     (not-authorized-for-conversation)
//   - a direct conversation names the subject itself
//     (invalid-conversation), a counterpart outside the tenant
//     (conversation-not-found), or one with no accepted friendship
//     (not-authorized-for-conversation)
//
// All rejections are terminal; retrying is a client concern. On success
// the gateway resolves the canonical room key, upgrades the transport, and
// admits the session into the lazily created room actor. The gateway holds
// no state across requests.
//
// Authorize is exported so the REST message handlers apply exactly the
// same policy as the websocket path.
package gateway
