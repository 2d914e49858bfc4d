package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultClaimTTL bounds how long a claim shields an item from other
// invocations. It must cover the maximum invocation timeout so a crashed
// invocation's items become reclaimable.
const DefaultClaimTTL = 10 * time.Minute

// ClaimToken proves ownership of an in-progress item.
type ClaimToken struct {
	// ItemID is the claimed source item.
	ItemID string `json:"item_id"`

	// Token is the unique claim identifier.
	Token string `json:"token"`

	// MarkerID is the store ID of the claim marker document.
	MarkerID string `json:"marker_id"`

	// ClaimedAt is when the claim was taken.
	ClaimedAt time.Time `json:"claimed_at"`
}

// ClaimManager coordinates overlapping invocations through marker documents
// in the store. No in-memory state is shared between invocations; correctness
// rests on marker visibility plus expiry.
//
// Protocol: a claimer creates a marker named
// "<itemhash>.<unix>.<token>.claim" and then re-lists. If more than one live
// marker exists for the item, the lexicographically smallest marker name wins
// and losers delete their own marker. Expiry is computed from the timestamp
// embedded in the marker name, never from assumptions about the current run.
type ClaimManager struct {
	store    DocumentStore
	folderID string
	ttl      time.Duration
	now      func() time.Time
}

// NewClaimManager creates a claim manager over the given claims folder.
// A non-positive ttl falls back to DefaultClaimTTL.
func NewClaimManager(store DocumentStore, claimsFolderID string, ttl time.Duration) *ClaimManager {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &ClaimManager{store: store, folderID: claimsFolderID, ttl: ttl, now: time.Now}
}

// claimHash identifies an item inside marker names without leaking store IDs
// that may contain separator characters.
func claimHash(itemID string) string {
	sum := sha256.Sum256([]byte(itemID))
	return hex.EncodeToString(sum[:6])
}

// marker is a parsed claim marker name.
type marker struct {
	doc       Document
	itemHash  string
	claimedAt time.Time
	token     string
}

func parseMarker(doc Document) (marker, bool) {
	name := strings.TrimSuffix(doc.Name, ".claim")
	if name == doc.Name {
		return marker{}, false
	}
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return marker{}, false
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return marker{}, false
	}
	return marker{
		doc:       doc,
		itemHash:  parts[0],
		claimedAt: time.Unix(unix, 0),
		token:     parts[2],
	}, true
}

// live reports whether a marker still shields its item at instant now.
func (m marker) live(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.claimedAt) < ttl
}

// Claim atomically marks an item in progress. It returns ErrAlreadyClaimed
// when another invocation holds a live claim; exactly one of two racing
// claimers succeeds.
func (c *ClaimManager) Claim(ctx context.Context, item SourceItem) (ClaimToken, error) {
	now := c.now()
	hash := claimHash(item.ID)

	existing, err := c.markersFor(ctx, hash)
	if err != nil {
		return ClaimToken{}, err
	}
	for _, m := range existing {
		if m.live(now, c.ttl) {
			return ClaimToken{}, ErrAlreadyClaimed
		}
		// Expired claim from a crashed invocation; clear it so the item is
		// reclaimable.
		if err := c.store.Delete(ctx, m.doc.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return ClaimToken{}, fmt.Errorf("removing expired claim for %s: %w", item.ID, err)
		}
	}

	token := uuid.New().String()
	name := fmt.Sprintf("%s.%d.%s.claim", hash, now.Unix(), token)
	markerID, err := c.store.Create(ctx, c.folderID, name, []byte(item.ID))
	if err != nil {
		return ClaimToken{}, fmt.Errorf("creating claim marker for %s: %w", item.ID, err)
	}

	// Re-list to resolve creation races on stores without exclusive create:
	// the smallest live marker name wins, losers withdraw.
	after, err := c.markersFor(ctx, hash)
	if err != nil {
		return ClaimToken{}, err
	}
	winner := ""
	for _, m := range after {
		if !m.live(c.now(), c.ttl) {
			continue
		}
		if winner == "" || m.doc.Name < winner {
			winner = m.doc.Name
		}
	}
	if winner != name {
		if err := c.store.Delete(ctx, markerID); err != nil && !errors.Is(err, ErrNotFound) {
			return ClaimToken{}, fmt.Errorf("withdrawing lost claim for %s: %w", item.ID, err)
		}
		return ClaimToken{}, ErrAlreadyClaimed
	}

	return ClaimToken{ItemID: item.ID, Token: token, MarkerID: markerID, ClaimedAt: now}, nil
}

// IsClaimed reports whether a live claim currently shields the item.
func (c *ClaimManager) IsClaimed(ctx context.Context, itemID string) (bool, error) {
	markers, err := c.markersFor(ctx, claimHash(itemID))
	if err != nil {
		return false, err
	}
	now := c.now()
	for _, m := range markers {
		if m.live(now, c.ttl) {
			return true, nil
		}
	}
	return false, nil
}

// Release removes a claim marker. Not required for correctness; expiry alone
// guarantees eventual progress. Releasing on clean completion shortens
// recovery latency for overlapping invocations.
func (c *ClaimManager) Release(ctx context.Context, token ClaimToken) error {
	if err := c.store.Delete(ctx, token.MarkerID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("releasing claim for %s: %w", token.ItemID, err)
	}
	return nil
}

func (c *ClaimManager) markersFor(ctx context.Context, hash string) ([]marker, error) {
	docs, err := c.store.List(ctx, c.folderID)
	if err != nil {
		return nil, fmt.Errorf("listing claims folder: %w", err)
	}
	var out []marker
	for _, d := range docs {
		if m, ok := parseMarker(d); ok && m.itemHash == hash {
			out = append(out, m)
		}
	}
	return out, nil
}
