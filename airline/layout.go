package airline

import (
	"hash/fnv"
	"log/slog"
	"math/bits"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/farescout/models"
)

// layoutEntry is the last known fingerprint of one airline page kind.
type layoutEntry struct {
	fingerprint uint64
	expiresAt   time.Time
}

// LayoutMemory remembers the DOM structure of each airline's results pages
// so a redesign shows up in the logs before the selectors stop matching.
// Entries expire after the configured TTL and are pruned periodically.
type LayoutMemory struct {
	store     sync.Map // "CI/cash" -> *layoutEntry
	ttl       time.Duration
	threshold int
	done      chan struct{}
	stopOnce  sync.Once
}

// NewLayoutMemory creates a LayoutMemory. threshold is the Hamming distance
// above which a page counts as drifted. It starts a goroutine that prunes
// expired entries every hour; call Stop to end it.
func NewLayoutMemory(ttl time.Duration, threshold int) *LayoutMemory {
	lm := &LayoutMemory{
		ttl:       ttl,
		threshold: threshold,
		done:      make(chan struct{}),
	}
	go lm.cleanupLoop()
	return lm
}

// Observe records the fingerprint of a successfully parsed page and returns
// its distance from the previous one, or -1 when there was none.
func (lm *LayoutMemory) Observe(airline models.AirlineCode, kind, rendered string) int {
	if lm == nil {
		return -1
	}
	fp := FingerprintDOM(rendered)
	if fp == 0 {
		return -1
	}
	key := string(airline) + "/" + kind

	distance := -1
	if val, ok := lm.store.Load(key); ok {
		entry := val.(*layoutEntry)
		if time.Now().Before(entry.expiresAt) {
			distance = Distance(entry.fingerprint, fp)
		}
	}
	if distance > lm.threshold {
		slog.Warn("airline page layout drifted",
			"airline", airline,
			"page", kind,
			"distance", distance,
			"threshold", lm.threshold,
		)
	}

	lm.store.Store(key, &layoutEntry{fingerprint: fp, expiresAt: time.Now().Add(lm.ttl)})
	return distance
}

// Forget drops the memory for one airline page kind.
func (lm *LayoutMemory) Forget(airline models.AirlineCode, kind string) {
	if lm == nil {
		return
	}
	lm.store.Delete(string(airline) + "/" + kind)
}

// Stop terminates the background cleanup goroutine.
func (lm *LayoutMemory) Stop() {
	if lm == nil {
		return
	}
	lm.stopOnce.Do(func() { close(lm.done) })
}

func (lm *LayoutMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-lm.done:
			return
		case <-ticker.C:
			now := time.Now()
			lm.store.Range(func(key, value any) bool {
				if now.After(value.(*layoutEntry).expiresAt) {
					lm.store.Delete(key)
				}
				return true
			})
		}
	}
}

// FingerprintDOM computes a 64-bit SimHash over the page's element
// structure. Each token is a tag name plus its first class, so renamed
// result components move the hash even when the tag skeleton is unchanged.
// Text content is ignored: prices and flight numbers change every search.
func FingerprintDOM(rendered string) uint64 {
	tokens := structureTokens(rendered)
	if len(tokens) == 0 {
		return 0
	}
	const n = 3
	if len(tokens) < n {
		return simhash(tokens)
	}
	shingles := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+n], "_"))
	}
	return simhash(shingles)
}

// structureTokens walks the HTML with the tokenizer and collects
// "tag.class" for each opening tag inside <body>.
func structureTokens(rendered string) []string {
	z := html.NewTokenizer(strings.NewReader(rendered))
	var tokens []string
	inBody := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tokens
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "body" {
				inBody = true
				continue
			}
			if !inBody || tag == "script" || tag == "style" {
				continue
			}
			tok := tag
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "class" {
					if fields := strings.Fields(string(val)); len(fields) > 0 {
						tok += "." + fields[0]
					}
					break
				}
			}
			tokens = append(tokens, tok)
		}
	}
}

// simhash folds FNV-64a hashes of the tokens into one fingerprint.
func simhash(tokens []string) uint64 {
	var vector [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
