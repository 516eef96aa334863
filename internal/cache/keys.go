package cache

import "fmt"

// Typed key-space helpers for the cache entries spec §4.C names: user
// profile, channel metadata, privacy settings, friend-relation facts,
// search records, card-share records.

func UserProfileKey(userID uint64) string       { return fmt.Sprintf("user:%d:profile", userID) }
func ChannelMetaKey(channelID uint64) string    { return fmt.Sprintf("channel:%d:meta", channelID) }
func PrivacySettingsKey(userID uint64) string   { return fmt.Sprintf("user:%d:privacy", userID) }
func FriendRelationKey(u1, u2 uint64) string    { return fmt.Sprintf("friend:%d:%d", min64(u1, u2), max64(u1, u2)) }
func SearchRecordKey(scope, query string) string { return fmt.Sprintf("search:%s:%s", scope, query) }
func CardShareKey(userID uint64) string         { return fmt.Sprintf("user:%d:card", userID) }

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
