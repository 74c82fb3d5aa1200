// Package roster models the group list returned by the gateway and caches it.
package roster

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind tells community structures apart from ordinary groups.
type Kind string

const (
	KindCommunityRoot          Kind = "community_root"
	KindCommunityAnnounceChild Kind = "community_announce_child"
	KindRegularGroup           Kind = "regular_group"
	KindUnknown                Kind = "unknown"
)

const defaultSearchLimit = 10

type Participant struct {
	ID          string `json:"id"`
	Admin       string `json:"admin,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

func (p Participant) IsAdmin() bool      { return p.Admin == "admin" }
func (p Participant) IsSuperAdmin() bool { return p.Admin == "superadmin" }

type Group struct {
	ID                  string        `json:"id"`
	Subject             string        `json:"subject"`
	SubjectTime         int64         `json:"subjectTime"`
	PictureURL          string        `json:"pictureUrl,omitempty"`
	Size                int64         `json:"size"`
	Creation            int64         `json:"creation"`
	Restrict            bool          `json:"restrict"`
	Announce            bool          `json:"announce"`
	IsCommunity         bool          `json:"isCommunity"`
	IsCommunityAnnounce bool          `json:"isCommunityAnnounce"`
	Participants        []Participant `json:"participants"`
	Owner               string        `json:"owner,omitempty"`
	SubjectOwner        string        `json:"subjectOwner,omitempty"`
	Desc                string        `json:"desc,omitempty"`
	DescID              string        `json:"descId,omitempty"`
	LinkedParent        string        `json:"linkedParent,omitempty"`
}

func (g Group) Kind() Kind {
	switch {
	case g.IsCommunity:
		return KindCommunityRoot
	case g.IsCommunityAnnounce || g.LinkedParent != "":
		return KindCommunityAnnounceChild
	default:
		return KindRegularGroup
	}
}

// Failure records a group entry that could not be parsed.
type Failure struct {
	ID      string
	Subject string
	Reason  string
}

// Groups is a parsed roster. Entries that fail validation land in Failures instead of
// aborting the whole load.
type Groups struct {
	Groups   []Group
	Failures []Failure
}

// Parse reads the gateway's group list. raw must be a JSON array.
func Parse(raw []byte) (*Groups, error) {
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, fmt.Errorf("group list is not a JSON array")
	}

	groups := &Groups{}
	root.ForEach(func(_, entry gjson.Result) bool {
		group, err := parseGroup(entry)
		if err != nil {
			groups.Failures = append(groups.Failures, Failure{
				ID:      entry.Get("id").String(),
				Subject: entry.Get("subject").String(),
				Reason:  err.Error(),
			})
			return true
		}
		groups.Groups = append(groups.Groups, group)
		return true
	})
	return groups, nil
}

func parseGroup(entry gjson.Result) (Group, error) {
	if !entry.IsObject() {
		return Group{}, fmt.Errorf("entry is not an object")
	}

	var g Group
	var err error
	str := func(key string, required bool) string {
		if err != nil {
			return ""
		}
		value := entry.Get(key)
		switch {
		case value.Type == gjson.String:
			return value.Str
		case value.Type == gjson.Null && !required:
			return ""
		case !value.Exists():
			err = fmt.Errorf("%s: field required", key)
		default:
			err = fmt.Errorf("%s: expected string", key)
		}
		return ""
	}
	num := func(key string) int64 {
		if err != nil {
			return 0
		}
		value := entry.Get(key)
		if value.Type != gjson.Number {
			err = fmt.Errorf("%s: expected number", key)
			return 0
		}
		return value.Int()
	}
	flag := func(key string) bool {
		if err != nil {
			return false
		}
		value := entry.Get(key)
		if value.Type != gjson.True && value.Type != gjson.False {
			err = fmt.Errorf("%s: expected boolean", key)
			return false
		}
		return value.Bool()
	}

	g.ID = str("id", true)
	g.Subject = str("subject", true)
	g.SubjectTime = num("subjectTime")
	g.PictureURL = str("pictureUrl", false)
	g.Size = num("size")
	g.Creation = num("creation")
	g.Restrict = flag("restrict")
	g.Announce = flag("announce")
	g.IsCommunity = flag("isCommunity")
	g.IsCommunityAnnounce = flag("isCommunityAnnounce")
	g.Owner = str("owner", false)
	g.SubjectOwner = str("subjectOwner", false)
	g.Desc = str("desc", false)
	g.DescID = str("descId", false)
	g.LinkedParent = str("linkedParent", false)
	if err != nil {
		return Group{}, err
	}

	participants := entry.Get("participants")
	if !participants.IsArray() {
		return Group{}, fmt.Errorf("participants: expected array")
	}
	for i, p := range participants.Array() {
		id := p.Get("id")
		if id.Type != gjson.String {
			return Group{}, fmt.Errorf("participants.%d.id: expected string", i)
		}
		g.Participants = append(g.Participants, Participant{
			ID:          id.Str,
			Admin:       p.Get("admin").String(),
			PhoneNumber: p.Get("phoneNumber").String(),
		})
	}
	return g, nil
}

// CountByKind tallies parsed groups per Kind.
func (g *Groups) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, group := range g.Groups {
		counts[group.Kind()]++
	}
	return counts
}

// Search ranks groups by subject match: a substring hit on the whole query scores 2 and
// each matching whitespace token scores 1. Ties keep roster order.
func (g *Groups) Search(query string, limit int) []Group {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))
	tokens := strings.Fields(q)

	type scored struct {
		score int
		group Group
	}
	var hits []scored
	for _, group := range g.Groups {
		subject := strings.ToLower(group.Subject)
		score := 0
		if strings.Contains(subject, q) {
			score += 2
		}
		for _, token := range tokens {
			if strings.Contains(subject, token) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{score: score, group: group})
		}
	}

	slices.SortStableFunc(hits, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]Group, 0, min(limit, len(hits)))
	for _, hit := range hits[:min(limit, len(hits))] {
		out = append(out, hit.group)
	}
	return out
}

// Find returns the group with the given JID.
func (g *Groups) Find(id string) (Group, bool) {
	for _, group := range g.Groups {
		if group.ID == id {
			return group, true
		}
	}
	return Group{}, false
}
