// Package digestchain implements the append-only, hash-linked digest
// chain: append, terminal digest, verification, and export/import for
// independent verification by a consumer holding only the exported form and
// the action list.
package digestchain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/chain"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/serializer"
)

// saltBytes is 32 bytes (256 bits) of per-link randomness, the minimum the
// invariants require.
const saltBytes = 32

// RandReader is the source of cryptographically secure randomness for
// salts, injectable so tests can run deterministically.
type RandReader interface {
	Read(p []byte) (n int, err error)
}

// Chain is the hash-linked digest log. The zero value is not usable; use
// New. Chain is safe for concurrent use; callers wanting a single atomic
// append-and-store should hold the engine's writer lock around Append and
// the corresponding store write (see internal/actionstore).
type Chain struct {
	mu    sync.RWMutex
	rand  RandReader
	links []chain.Link
}

// New constructs an empty chain using crypto/rand for salts.
func New() *Chain {
	return &Chain{rand: rand.Reader}
}

// NewWithRand constructs an empty chain using the given randomness source,
// for deterministic tests.
func NewWithRand(r RandReader) *Chain {
	return &Chain{rand: r}
}

// Append computes the next link for the given action and records it. The
// action's Digest and Salt fields are populated in the returned copy; the
// caller is responsible for persisting both the link and the action
// atomically (see actionstore.Store.Append).
func (c *Chain) Append(a action.Record) (chain.Link, action.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior := chain.GenesisDigest
	if n := len(c.links); n > 0 {
		prior = c.links[n-1].Digest
	}

	salt := make([]byte, saltBytes)
	if _, err := c.rand.Read(salt); err != nil {
		return chain.Link{}, action.Record{}, fmt.Errorf("digestchain: read salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	canon, err := serializer.Canonical(a)
	if err != nil {
		return chain.Link{}, action.Record{}, fmt.Errorf("digestchain: canonicalize: %w", err)
	}

	digest := linkDigest(prior, saltHex, canon)

	link := chain.Link{
		Sequence:    int64(len(c.links) + 1),
		ActionID:    a.ID,
		PriorDigest: prior,
		Salt:        saltHex,
		Digest:      digest,
	}
	c.links = append(c.links, link)

	out := a
	out.Digest = digest
	out.Salt = saltHex
	return link, out, nil
}

// Terminal returns the digest of the last appended link, or the genesis
// digest if the chain is empty.
func (c *Chain) Terminal() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminalLocked()
}

func (c *Chain) terminalLocked() string {
	if len(c.links) == 0 {
		return chain.GenesisDigest
	}
	return c.links[len(c.links)-1].Digest
}

// Len returns the number of links appended so far.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// Links returns a defensive copy of the current link list.
func (c *Chain) Links() []chain.Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chain.Link, len(c.links))
	copy(out, c.links)
	return out
}

// Verify recomputes every link against the supplied current form of each
// referenced action. actionsByID must contain every action referenced by
// the chain's links; actions are looked up by ActionID.
func (c *Chain) Verify(actionsByID map[int64]action.Record) chain.VerifyResult {
	c.mu.RLock()
	links := make([]chain.Link, len(c.links))
	copy(links, c.links)
	c.mu.RUnlock()

	return VerifyLinks(links, actionsByID)
}

// VerifyLinks recomputes each link in isolation from the store, so that an
// exported chain plus an independently held action list can be verified
// without a live Chain instance.
func VerifyLinks(links []chain.Link, actionsByID map[int64]action.Record) chain.VerifyResult {
	for i, link := range links {
		expectedPrior := chain.GenesisDigest
		if i > 0 {
			expectedPrior = links[i-1].Digest
		}
		if link.PriorDigest != expectedPrior {
			return chain.VerifyResult{Valid: false, LinksVerified: i, FirstInvalidIndex: i}
		}

		a, ok := actionsByID[link.ActionID]
		if !ok {
			return chain.VerifyResult{Valid: false, LinksVerified: i, FirstInvalidIndex: i}
		}

		// The digest and salt are stamped onto the record after its link is
		// computed; recompute against the pre-stamp form.
		a.Digest, a.Salt = "", ""
		canon, err := serializer.Canonical(a)
		if err != nil {
			return chain.VerifyResult{Valid: false, LinksVerified: i, FirstInvalidIndex: i}
		}

		if linkDigest(link.PriorDigest, link.Salt, canon) != link.Digest {
			return chain.VerifyResult{Valid: false, LinksVerified: i, FirstInvalidIndex: i}
		}
	}
	return chain.VerifyResult{Valid: true, LinksVerified: len(links)}
}

// Export returns the persisted, self-contained representation of the chain.
func (c *Chain) Export() chain.Exported {
	c.mu.RLock()
	defer c.mu.RUnlock()
	links := make([]chain.Link, len(c.links))
	copy(links, c.links)
	return chain.Exported{
		GenesisHash:    chain.GenesisDigest,
		Links:          links,
		TerminalDigest: c.terminalLocked(),
	}
}

// VerifyExported verifies a previously exported chain against an externally
// supplied action list, independent of any live Chain instance.
func VerifyExported(exported chain.Exported, actions []action.Record) chain.VerifyResult {
	byID := make(map[int64]action.Record, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	result := VerifyLinks(exported.Links, byID)
	if result.Valid {
		terminal := chain.GenesisDigest
		if len(exported.Links) > 0 {
			terminal = exported.Links[len(exported.Links)-1].Digest
		}
		if terminal != exported.TerminalDigest {
			return chain.VerifyResult{Valid: false, LinksVerified: len(exported.Links), FirstInvalidIndex: len(exported.Links) - 1}
		}
	}
	return result
}

// linkDigest hashes the concatenation of the prior digest and salt as their
// 64-character lowercase hex forms, followed by the canonical action bytes,
// returning lowercase hex. Hashing the hex strings rather than the decoded
// bytes keeps the digest input reproducible by any consumer holding only the
// exported chain, which carries hex.
func linkDigest(priorDigestHex, saltHex string, canonicalAction []byte) string {
	h := sha256.New()
	h.Write([]byte(priorDigestHex))
	h.Write([]byte(saltHex))
	h.Write(canonicalAction)
	return hex.EncodeToString(h.Sum(nil))
}
