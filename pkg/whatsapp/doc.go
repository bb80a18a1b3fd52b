// Package whatsapp drives the web messaging client for one or more devices.
//
// A device session owns a persistent browser profile and at most one running
// browser. Sessions are created lazily by a Registry, authenticated by scanning
// a code rendered by the web client, and used to send text and media messages
// to chats addressed by phone number.
//
// # Session Lifecycle
//
//  1. Create: Registry.GetOrCreate prepares the session and profile directories
//  2. Initialize: the browser is launched, the web client loaded, and the session
//     either restores its authenticated profile or captures a scan code and
//     waits (up to AuthTimeout) for a human to scan it
//  3. Send: messages are dispatched through the open chat; an uninitialized or
//     unauthenticated session is initialized first
//  4. Close: Registry.Delete or idle eviction quits the browser, deletes the
//     captured scan code and drops the session; the profile stays on disk
//
// # Concurrency
//
// Automation on one session is serialized. Accessors (State, IsAuthenticated,
// QRImagePath, Info) never block behind a running operation, so a scan code can
// be fetched while Initialize waits for it to be scanned.
package whatsapp
