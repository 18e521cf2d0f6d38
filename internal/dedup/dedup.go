// Package dedup is the fingerprint registry that prevents the same
// content from being filed twice. Identity is the canonicalized URL
// when one exists, otherwise the normalized title.
package dedup

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/lwen/dailynote/internal/store"
)

type Status int

const (
	StatusNew Status = iota
	StatusDuplicate
	StatusUpdatable
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusDuplicate:
		return "duplicate"
	case StatusUpdatable:
		return "updatable"
	}
	return "unknown"
}

type Index struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*fpLock
}

// fpLock is a refcounted mutex. The fingerprint keyspace is unbounded,
// so entries are dropped once the last holder releases instead of
// accumulating one per fingerprint ever seen.
type fpLock struct {
	sync.Mutex
	refs int
}

func NewIndex(s *store.Store) *Index {
	return &Index{
		store: s,
		locks: make(map[string]*fpLock),
	}
}

// Lock serializes check+commit for one fingerprint. The caller holds
// the returned unlock across the whole check → write → commit sequence
// so two concurrent detections of the same content can never both pass
// Check as new.
func (i *Index) Lock(fingerprint string) func() {
	i.mu.Lock()
	l, ok := i.locks[fingerprint]
	if !ok {
		l = &fpLock{}
		i.locks[fingerprint] = l
	}
	l.refs++
	i.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		i.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(i.locks, fingerprint)
		}
		i.mu.Unlock()
	}
}

// Fingerprint computes the identity key for a content entry.
func Fingerprint(rawURL, title string) string {
	if canonical := CanonicalURL(rawURL); canonical != "" {
		return "url:" + canonical
	}
	return "title:" + NormalizeTitle(title)
}

// Check looks up the entry's fingerprint. StatusDuplicate means an
// identical entry is already filed; StatusUpdatable means the same
// identity with a materially different summary, which the caller may
// replace in place.
func (i *Index) Check(rawURL, title, summary string) (Status, *store.FingerprintRecord, error) {
	fp := Fingerprint(rawURL, title)
	rec, err := i.store.LookupFingerprint(fp)
	if err != nil {
		return StatusNew, nil, fmt.Errorf("dedup check: %w", err)
	}
	if rec == nil {
		return StatusNew, nil, nil
	}
	if rec.SummaryHash != SummaryHash(title, summary) {
		return StatusUpdatable, rec, nil
	}
	return StatusDuplicate, rec, nil
}

// Commit records fingerprint → (note file, heading path). Called only
// after the writer has durably inserted the entry; a crash between
// check and write therefore never poisons the index with a phantom
// duplicate.
func (i *Index) Commit(rawURL, title, summary, noteFile string, headingPath []string) error {
	pathJSON, err := json.Marshal(headingPath)
	if err != nil {
		return fmt.Errorf("dedup commit: encode path: %w", err)
	}
	rec := store.FingerprintRecord{
		Fingerprint: Fingerprint(rawURL, title),
		URL:         rawURL,
		Title:       title,
		SummaryHash: SummaryHash(title, summary),
		NoteFile:    noteFile,
		HeadingPath: string(pathJSON),
	}
	if err := i.store.UpsertFingerprint(rec); err != nil {
		return fmt.Errorf("dedup commit: %w", err)
	}
	return nil
}

// HeadingPath decodes the stored heading path of a committed record.
func HeadingPath(rec *store.FingerprintRecord) []string {
	if rec == nil || rec.HeadingPath == "" {
		return nil
	}
	var path []string
	if err := json.Unmarshal([]byte(rec.HeadingPath), &path); err != nil {
		return nil
	}
	return path
}

// trackingParams are stripped before comparison; they vary per share
// without changing the referenced content.
var trackingParams = map[string]bool{
	"fbclid":       true,
	"gclid":        true,
	"spm":          true,
	"share_medium": true,
	"share_source": true,
	"from_source":  true,
}

// CanonicalURL normalizes a URL for identity comparison: scheme is
// ignored, host is lowercased, the fragment and tracking query params
// are dropped, and a trailing slash is removed.
func CanonicalURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if trackingParams[k] || strings.HasPrefix(k, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(host)
	sb.WriteString(path)
	for n, k := range keys {
		if n == 0 {
			sb.WriteString("?")
		} else {
			sb.WriteString("&")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(q.Get(k))
	}
	return sb.String()
}

// NormalizeTitle lowercases, collapses whitespace, and strips
// punctuation so trivially reworded titles compare equal.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			sb.WriteRune(r)
		case r == ' ' || r == '\t':
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func SummaryHash(title, summary string) string {
	h := sha1.Sum([]byte(strings.TrimSpace(title) + "\x00" + strings.TrimSpace(summary)))
	return hex.EncodeToString(h[:])
}
