package catalog

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
)

// Key layout:
//
//	source:{id}                 / record         reference source
//	genre:{id}                  / record         reference genre
//	userpref:{user}             / {kind}:{id}    one preference
//	title:{id}                  / record         canonical title
//	source:{s}:genre:{g}        / title:{id}     inverted index entry
const (
	RecordSK = "record"

	PrefixSource   = "source:"
	PrefixGenre    = "genre:"
	PrefixUserPref = "userpref:"
	PrefixTitle    = "title:"
)

func TitleKey(id ID) kvstore.Key {
	return kvstore.Key{PK: PrefixTitle + string(id), SK: RecordSK}
}

func SourceKey(id ID) kvstore.Key {
	return kvstore.Key{PK: PrefixSource + string(id), SK: RecordSK}
}

func GenreKey(id ID) kvstore.Key {
	return kvstore.Key{PK: PrefixGenre + string(id), SK: RecordSK}
}

// IndexPK is the partition holding every title seen under (source, genre).
func IndexPK(sourceID, genreID ID) string {
	return fmt.Sprintf("%s%s:genre:%s", PrefixSource, sourceID, genreID)
}

func IndexKey(e IndexEntry) kvstore.Key {
	return kvstore.Key{PK: IndexPK(e.SourceID, e.GenreID), SK: PrefixTitle + string(e.TitleID)}
}

func UserPrefKey(userID string, kind PreferenceKind, value ID) kvstore.Key {
	return kvstore.Key{PK: PrefixUserPref + userID, SK: string(kind) + ":" + string(value)}
}

// IsTitleRecord reports whether key addresses a canonical title record.
func IsTitleRecord(key kvstore.Key) bool {
	return strings.HasPrefix(key.PK, PrefixTitle) && len(key.PK) > len(PrefixTitle) && key.SK == RecordSK
}

// TitleIDFromKey extracts the id of a canonical title record key.
func TitleIDFromKey(key kvstore.Key) (ID, bool) {
	if !IsTitleRecord(key) {
		return "", false
	}
	return ID(strings.TrimPrefix(key.PK, PrefixTitle)), true
}

// TitleIDFromIndexSK extracts the title id from an index entry sort key.
func TitleIDFromIndexSK(sk string) (ID, bool) {
	if !strings.HasPrefix(sk, PrefixTitle) || len(sk) == len(PrefixTitle) {
		return "", false
	}
	return ID(strings.TrimPrefix(sk, PrefixTitle)), true
}

// ParsePreference decodes a userpref row key.
func ParsePreference(key kvstore.Key) (UserPreference, error) {
	userID, ok := strings.CutPrefix(key.PK, PrefixUserPref)
	if !ok || userID == "" {
		return UserPreference{}, fmt.Errorf("not a preference key: %s", key)
	}
	kind, value, ok := strings.Cut(key.SK, ":")
	if !ok || value == "" {
		return UserPreference{}, fmt.Errorf("malformed preference sort key %q", key.SK)
	}
	switch PreferenceKind(kind) {
	case KindSource, KindGenre:
	default:
		return UserPreference{}, fmt.Errorf("unknown preference kind %q", kind)
	}
	return UserPreference{UserID: userID, Kind: PreferenceKind(kind), ValueID: ID(value)}, nil
}

// isReferenceKey matches source:{id}/record and genre:{id}/record but not
// index partitions, which also start with "source:".
func isReferenceKey(key kvstore.Key, prefix string) bool {
	if key.SK != RecordSK || !strings.HasPrefix(key.PK, prefix) {
		return false
	}
	return !strings.Contains(strings.TrimPrefix(key.PK, prefix), ":")
}
