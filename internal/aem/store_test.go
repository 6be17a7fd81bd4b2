package aem

import (
	"testing"
)

func versions(list []*Configuration) []int64 {
	out := make([]int64, len(list))
	for i, c := range list {
		out[i] = c.ValidFrom
	}
	return out
}

func TestConfigurationStore_AddKeepsOrder(t *testing.T) {
	store := NewConfigurationStore()
	for _, v := range []int64{300, 100, 200} {
		store.Add(mustConfig(t, v, ModeDefault, "", ""))
	}

	got := versions(store.List(ModeDefault))
	want := []int64{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List() = %v, want %v", got, want)
		}
	}
}

func TestConfigurationStore_AddReplacesSameVersion(t *testing.T) {
	store := NewConfigurationStore()
	store.Add(mustConfig(t, 100, ModeBrand, "a", `{"x":{"eq":"1"}}`))
	store.Add(mustConfig(t, 100, ModeBrand, "b", `{"x":{"eq":"1"}}`))

	replacement := mustConfig(t, 100, ModeBrand, "a", `{"x":{"eq":"2"}}`)
	store.Add(replacement)

	list := store.List(ModeBrand)
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	found := false
	for _, c := range list {
		if c == replacement {
			found = true
		}
	}
	if !found {
		t.Error("replacement not stored")
	}
}

func TestConfigurationStore_AddIdenticalIsNoChange(t *testing.T) {
	store := NewConfigurationStore()
	first := mustConfig(t, 100, ModeBrand, "a", `{"x":{"eq":"1"}}`)
	if !store.Add(first) {
		t.Fatal("Add(new) = false, want true")
	}
	if store.Add(mustConfig(t, 100, ModeBrand, "a", `{"x":{"eq":"1"}}`)) {
		t.Error("Add(identical) = true, want false")
	}
	if got := store.List(ModeBrand); len(got) != 1 || got[0] != first {
		t.Errorf("List() = %v, want the original entry kept", got)
	}
	if !store.Add(mustConfig(t, 100, ModeBrand, "a", `{"x":{"eq":"2"}}`)) {
		t.Error("Add(changed rule) = false, want true")
	}
}

func TestConfigurationStore_Candidates(t *testing.T) {
	store := NewConfigurationStore()
	store.Add(mustConfig(t, 1, ModeDefault, "", ""))
	store.Add(mustConfig(t, 2, ModeBrand, "b", `{"x":{"eq":"1"}}`))
	store.Add(mustConfig(t, 3, ModeCPAS, "b", `{"x":{"eq":"1"}}`))

	if got := versions(store.Candidates(false)); len(got) != 1 || got[0] != 1 {
		t.Errorf("Candidates(false) = %v, want [1]", got)
	}
	got := versions(store.Candidates(true))
	if len(got) != 2 || got[0] != 3 || got[1] != 2 {
		t.Errorf("Candidates(true) = %v, want CPAS then BRAND [3 2]", got)
	}
	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3", store.Len())
	}
}

func TestConfigurationStore_Retain(t *testing.T) {
	store := NewConfigurationStore()
	store.Add(mustConfig(t, 1, ModeDefault, "", ""))
	store.Add(mustConfig(t, 2, ModeDefault, "", ""))
	store.Add(mustConfig(t, 3, ModeCPAS, "b", `{"x":{"eq":"1"}}`))

	if store.Retain(func(*Configuration) bool { return true }) {
		t.Error("Retain(keep all) = true, want false")
	}
	changed := store.Retain(func(c *Configuration) bool { return c.ValidFrom == 2 })
	if !changed {
		t.Fatal("Retain() = false, want true")
	}
	if store.Len() != 1 || store.LatestDefault().ValidFrom != 2 {
		t.Errorf("after Retain: %v", versions(store.All()))
	}
	if len(store.List(ModeCPAS)) != 0 {
		t.Error("CPAS list not emptied")
	}
}
