/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sort"
	"strings"
)

// HotkeyRole names one binding of Hotkeys
type HotkeyRole string

const (
	RoleMute           HotkeyRole = "mute"
	RoleSpeaker        HotkeyRole = "speaker"
	RolePushToTalk     HotkeyRole = "pushToTalk"
	RoleIncreaseVolume HotkeyRole = "increaseVolume"
	RoleDecreaseVolume HotkeyRole = "decreaseVolume"
	RoleGlobalMute     HotkeyRole = "globalMute"
)

type binding struct {
	role HotkeyRole
	key  string
}

func (h Hotkeys) bindings() []binding {
	return []binding{
		{RoleMute, h.MuteHotkey},
		{RoleSpeaker, h.SpeakerHotkey},
		{RolePushToTalk, h.PushToTalkHotkey},
		{RoleIncreaseVolume, h.IncreaseVolumeHotkey},
		{RoleDecreaseVolume, h.DecreaseVolumeHotkey},
		{RoleGlobalMute, h.GlobalMuteHotkey},
	}
}

// Roles returns the roles bound to key
func (h Hotkeys) Roles(key string) []HotkeyRole {
	key = normalizeKey(key)
	if key == "" {
		return nil
	}
	var roles []HotkeyRole
	for _, b := range h.bindings() {
		if normalizeKey(b.key) == key {
			roles = append(roles, b.role)
		}
	}
	return roles
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// FindDuplicateHotkeys returns the sorted key values of proposed that some
// other call already binds, under any role. A global mute key matching
// another call's global mute key is shared on purpose and never reported.
func FindDuplicateHotkeys(all map[string]Hotkeys, id string, proposed Hotkeys) []string {
	seen := make(map[string]struct{})
	for otherID, other := range all {
		if otherID == id {
			continue
		}
		for _, ob := range other.bindings() {
			okey := normalizeKey(ob.key)
			if okey == "" {
				continue
			}
			for _, pb := range proposed.bindings() {
				if normalizeKey(pb.key) != okey {
					continue
				}
				if ob.role == RoleGlobalMute && pb.role == RoleGlobalMute {
					continue
				}
				seen[okey] = struct{}{}
			}
		}
	}

	dups := make([]string, 0, len(seen))
	for k := range seen {
		dups = append(dups, k)
	}
	sort.Strings(dups)
	return dups
}

// UpdateGlobalHotkey returns a copy of all with key written into the global
// mute binding of every call. No other binding changes.
func UpdateGlobalHotkey(all map[string]Hotkeys, sourceID string, key string) map[string]Hotkeys {
	out := make(map[string]Hotkeys, len(all))
	for id, h := range all {
		h.GlobalMuteHotkey = key
		out[id] = h
	}
	if _, ok := all[sourceID]; !ok && sourceID != "" {
		h := DefaultHotkeys()
		h.GlobalMuteHotkey = key
		out[sourceID] = h
	}
	return out
}

// changedBindings returns proposed with every binding equal to the one in
// current cleared
func changedBindings(current, proposed Hotkeys) Hotkeys {
	keep := func(cur, next string) string {
		if normalizeKey(cur) == normalizeKey(next) {
			return ""
		}
		return next
	}
	return Hotkeys{
		MuteHotkey:           keep(current.MuteHotkey, proposed.MuteHotkey),
		SpeakerHotkey:        keep(current.SpeakerHotkey, proposed.SpeakerHotkey),
		PushToTalkHotkey:     keep(current.PushToTalkHotkey, proposed.PushToTalkHotkey),
		IncreaseVolumeHotkey: keep(current.IncreaseVolumeHotkey, proposed.IncreaseVolumeHotkey),
		DecreaseVolumeHotkey: keep(current.DecreaseVolumeHotkey, proposed.DecreaseVolumeHotkey),
		GlobalMuteHotkey:     keep(current.GlobalMuteHotkey, proposed.GlobalMuteHotkey),
	}
}
