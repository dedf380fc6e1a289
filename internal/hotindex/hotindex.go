// Package hotindex implements the Hot Index (C3): an in-memory, read-biased
// lookup keyed first by voice, then by normalized text, yielding the
// ordered list of audio paths cached for that pair.
package hotindex

import (
    "math/rand"
    "sync"
)

// Index is safe for concurrent use. Reads vastly dominate writes (lookups
// on every request vs. writes on miss/warm-up/eviction), so it is guarded
// by a single RWMutex (concurrent readers, exclusive writers) rather than
// per-bucket locks.
type Index struct {
    mu      sync.RWMutex
    buckets map[string]map[string][]string // voice_id -> text_normalized -> []audio_path
    rng     *rand.Rand
    rngMu   sync.Mutex
}

// New returns an empty Hot Index.
func New() *Index {
    return &Index{
        buckets: make(map[string]map[string][]string),
        rng:     rand.New(rand.NewSource(1)),
    }
}

// Add appends path to the (voice, text) bucket, deduplicating and capping
// the list length at varietyDepth (oldest path dropped if over cap).
func (idx *Index) Add(textNormalized, voiceID, audioPath string, varietyDepth int) {
    idx.mu.Lock()
    defer idx.mu.Unlock()

    byText, ok := idx.buckets[voiceID]
    if !ok {
        byText = make(map[string][]string)
        idx.buckets[voiceID] = byText
    }

    paths := byText[textNormalized]
    for _, p := range paths {
        if p == audioPath {
            return // already present
        }
    }

    paths = append(paths, audioPath)
    if varietyDepth > 0 && len(paths) > varietyDepth {
        paths = paths[len(paths)-varietyDepth:]
    }
    byText[textNormalized] = paths
}

// Remove drops the entire bucket entry for (text, voice).
func (idx *Index) Remove(textNormalized, voiceID string) {
    idx.mu.Lock()
    defer idx.mu.Unlock()

    byText, ok := idx.buckets[voiceID]
    if !ok {
        return
    }
    delete(byText, textNormalized)
    if len(byText) == 0 {
        delete(idx.buckets, voiceID)
    }
}

// RemovePath removes a single path from the (text, voice) bucket, used by
// the Evictor when only one version of a pair is being evicted.
func (idx *Index) RemovePath(textNormalized, voiceID, audioPath string) {
    idx.mu.Lock()
    defer idx.mu.Unlock()

    byText, ok := idx.buckets[voiceID]
    if !ok {
        return
    }
    paths, ok := byText[textNormalized]
    if !ok {
        return
    }

    out := paths[:0]
    for _, p := range paths {
        if p != audioPath {
            out = append(out, p)
        }
    }
    if len(out) == 0 {
        delete(byText, textNormalized)
        if len(byText) == 0 {
            delete(idx.buckets, voiceID)
        }
        return
    }
    byText[textNormalized] = out
}

// ExactLookup returns one path chosen uniformly at random from the bucket,
// or false if the bucket is empty or absent.
func (idx *Index) ExactLookup(textNormalized, voiceID string) (string, bool) {
    idx.mu.RLock()
    paths := idx.buckets[voiceID][textNormalized]
    // Pick the path while still holding the read lock, since RemovePath
    // rewrites the bucket's backing array in place under the write lock.
    n := len(paths)
    var chosen string
    if n > 0 {
        chosen = paths[idx.randIndex(n)]
    }
    idx.mu.RUnlock()

    if n == 0 {
        return "", false
    }
    return chosen, true
}

// GetPaths returns the full bucket for (text, voice), for variety-depth
// introspection. The returned slice is a copy safe to read without a lock.
func (idx *Index) GetPaths(textNormalized, voiceID string) []string {
    idx.mu.RLock()
    defer idx.mu.RUnlock()

    paths := idx.buckets[voiceID][textNormalized]
    out := make([]string, len(paths))
    copy(out, paths)
    return out
}

// VoiceBucketKeys returns every normalized text key cached for voiceID,
// the candidate set the Fuzzy Matcher scans over.
func (idx *Index) VoiceBucketKeys(voiceID string) []string {
    idx.mu.RLock()
    defer idx.mu.RUnlock()

    byText, ok := idx.buckets[voiceID]
    if !ok {
        return nil
    }
    out := make([]string, 0, len(byText))
    for k := range byText {
        out = append(out, k)
    }
    return out
}

// Size returns the count of distinct (voice, text) buckets.
func (idx *Index) Size() int {
    idx.mu.RLock()
    defer idx.mu.RUnlock()

    total := 0
    for _, byText := range idx.buckets {
        total += len(byText)
    }
    return total
}

func (idx *Index) randIndex(n int) int {
    idx.rngMu.Lock()
    defer idx.rngMu.Unlock()
    return idx.rng.Intn(n)
}
