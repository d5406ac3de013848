package risk

import "strings"

// trustBonus is added to the suspicion value for every trusted match.
const trustBonus = 0.1

// Kind identifies which request attribute a list entry is matched against.
type Kind string

const (
	KindIP        Kind = "ip"
	KindEmailHash Kind = "email"
	KindUserID    Kind = "user"
)

// ParseKind accepts the canonical kind names plus a few common spellings.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip", "ips":
		return KindIP, true
	case "email", "emails", "email_hash", "emailhash", "emailhashes":
		return KindEmailHash, true
	case "user", "users", "user_id", "userid", "userids":
		return KindUserID, true
	}
	return "", false
}

type set map[string]struct{}

func (s set) has(v string) bool {
	if v == "" {
		return false
	}
	_, ok := s[v]
	return ok
}

// ListSet holds the trusted and blocked identifier lists. It is built once
// at start-up and never mutated afterwards, so it is safe to share between
// goroutines without locking.
type ListSet struct {
	trusted map[Kind]set
	blocked map[Kind]set
}

// ListBuilder accumulates entries from one or more sources.
type ListBuilder struct {
	trusted map[Kind]set
	blocked map[Kind]set
}

// NewListBuilder returns an empty builder.
func NewListBuilder() *ListBuilder {
	return &ListBuilder{
		trusted: map[Kind]set{KindIP: {}, KindEmailHash: {}, KindUserID: {}},
		blocked: map[Kind]set{KindIP: {}, KindEmailHash: {}, KindUserID: {}},
	}
}

// Trust adds values to the trusted list of the given kind. Blank values are
// dropped.
func (b *ListBuilder) Trust(kind Kind, values ...string) *ListBuilder {
	add(b.trusted[kind], values)
	return b
}

// Block adds values to the blocked list of the given kind.
func (b *ListBuilder) Block(kind Kind, values ...string) *ListBuilder {
	add(b.blocked[kind], values)
	return b
}

func add(s set, values []string) {
	if s == nil {
		return
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			s[v] = struct{}{}
		}
	}
}

// Build freezes the builder into a ListSet. The builder must not be used
// afterwards.
func (b *ListBuilder) Build() *ListSet {
	ls := &ListSet{trusted: b.trusted, blocked: b.blocked}
	b.trusted, b.blocked = nil, nil
	return ls
}

// EmptyLists returns a ListSet that matches nothing.
func EmptyLists() *ListSet {
	return NewListBuilder().Build()
}

// Counts reports list sizes keyed as "trusted_ip", "blocked_email" and so on.
func (l *ListSet) Counts() map[string]int {
	out := make(map[string]int, 6)
	for k, s := range l.trusted {
		out["trusted_"+string(k)] = len(s)
	}
	for k, s := range l.blocked {
		out["blocked_"+string(k)] = len(s)
	}
	return out
}

// Verdict is the outcome of list classification.
type Verdict struct {
	// Blocked is the single block reason, empty when nothing is blocked.
	Blocked string
	// Trusted holds one reason per matching trusted list, in ip, email,
	// user order.
	Trusted []string
}

// Classify checks the identifiers against every list. Block matches win over
// trust; among blocks the ip list is checked first, then email, then user.
// Empty identifiers never match.
func (l *ListSet) Classify(ip, emailHash, userID string) Verdict {
	switch {
	case l.blocked[KindIP].has(ip):
		return Verdict{Blocked: ReasonBlockedIP}
	case l.blocked[KindEmailHash].has(emailHash):
		return Verdict{Blocked: ReasonBlockedEmail}
	case l.blocked[KindUserID].has(userID):
		return Verdict{Blocked: ReasonBlockedUser}
	}

	var v Verdict
	if l.trusted[KindIP].has(ip) {
		v.Trusted = append(v.Trusted, ReasonTrustedIP)
	}
	if l.trusted[KindEmailHash].has(emailHash) {
		v.Trusted = append(v.Trusted, ReasonTrustedEmail)
	}
	if l.trusted[KindUserID].has(userID) {
		v.Trusted = append(v.Trusted, ReasonTrustedUser)
	}
	return v
}
