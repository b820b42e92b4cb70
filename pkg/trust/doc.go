// Package trust implements HyperBloom's bounded signature chain: the
// mechanism by which a session's authority to speak for a feed is
// established, verified, and, optionally once, shortened.
//
// A chain is an ordered list of 0..MaxChainLength Trust Links, each
// delegating write authority from one public key to the next. Walking
// a chain starting at a feed's public key and ending at the key that
// signs a handshake is the entire trust model; there is no separate
// certificate authority or revocation mechanism.
//
// The wire representation of a Link is treated as opaque by package
// session and package protocol; only this package parses the
// fixed-width encoding.
package trust
